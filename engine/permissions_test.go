package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateOwnerBypassesEverything(t *testing.T) {
	got := Evaluate(EvaluateInput{
		IsServerOwner: true,
		Overrides: []ChannelOverride{
			{Target: TargetUser, TargetID: "me", DenyBits: AllPermissions},
		},
	})
	assert.Equal(t, AllPermissions, got)
}

func TestEvaluateAdministratorBitShortCircuits(t *testing.T) {
	got := Evaluate(EvaluateInput{
		BaseEveryoneBits: DefaultEveryone,
		UserRoles:        []RoleBits{{RoleID: "mod", Bits: PermAdministrator}},
		Overrides: []ChannelOverride{
			{Target: TargetUser, TargetID: "me", DenyBits: AllPermissions},
		},
		UserID: "me",
	})
	assert.Equal(t, AllPermissions, got)
}

func TestEvaluateNoOverridesReturnsBaseAndRoleBits(t *testing.T) {
	got := Evaluate(EvaluateInput{
		BaseEveryoneBits: DefaultEveryone,
		UserRoles:        []RoleBits{{RoleID: "mod", Bits: PermKickMembers}},
	})
	assert.Equal(t, DefaultEveryone|PermKickMembers, got)
}

func TestEvaluateEveryoneOverrideAppliesFirst(t *testing.T) {
	got := Evaluate(EvaluateInput{
		BaseEveryoneBits: DefaultEveryone,
		EveryoneRoleID:   "everyone",
		Overrides: []ChannelOverride{
			{Target: TargetRole, TargetID: "everyone", DenyBits: PermSendMessages},
		},
	})
	assert.False(t, HasPermission(got, PermSendMessages))
	assert.True(t, HasPermission(got, PermViewChannels))
}

func TestEvaluateIgnoresOverrideForUnheldRole(t *testing.T) {
	got := Evaluate(EvaluateInput{
		BaseEveryoneBits: DefaultEveryone,
		EveryoneRoleID:   "everyone",
		UserRoles:        []RoleBits{{RoleID: "member", Bits: 0}},
		Overrides: []ChannelOverride{
			{Target: TargetRole, TargetID: "moderator", AllowBits: PermKickMembers},
		},
	})
	assert.False(t, HasPermission(got, PermKickMembers))
}

func TestEvaluateCombinesHeldRoleOverridesBeforeApplying(t *testing.T) {
	// Role A allows kick, role B denies kick. Both held: combined deny
	// wins because the combination ORs allow and deny separately before
	// a single (allow | perms) &^ deny application, not interleaved.
	got := Evaluate(EvaluateInput{
		BaseEveryoneBits: DefaultEveryone,
		EveryoneRoleID:   "everyone",
		UserRoles: []RoleBits{
			{RoleID: "roleA", Bits: 0},
			{RoleID: "roleB", Bits: 0},
		},
		Overrides: []ChannelOverride{
			{Target: TargetRole, TargetID: "roleA", AllowBits: PermKickMembers},
			{Target: TargetRole, TargetID: "roleB", DenyBits: PermKickMembers},
		},
	})
	assert.False(t, HasPermission(got, PermKickMembers))
}

func TestEvaluateUserOverrideHasFinalWord(t *testing.T) {
	got := Evaluate(EvaluateInput{
		BaseEveryoneBits: DefaultEveryone,
		EveryoneRoleID:   "everyone",
		UserID:           "me",
		Overrides: []ChannelOverride{
			{Target: TargetRole, TargetID: "everyone", DenyBits: PermSendMessages},
			{Target: TargetUser, TargetID: "me", AllowBits: PermSendMessages},
		},
	})
	assert.True(t, HasPermission(got, PermSendMessages))
}

func TestEvaluateIsPure(t *testing.T) {
	in := EvaluateInput{
		BaseEveryoneBits: DefaultEveryone,
		EveryoneRoleID:   "everyone",
		UserID:           "me",
		UserRoles:        []RoleBits{{RoleID: "mod", Bits: PermKickMembers}},
		Overrides: []ChannelOverride{
			{Target: TargetUser, TargetID: "me", AllowBits: PermBanMembers},
		},
	}
	first := Evaluate(in)
	second := Evaluate(in)
	assert.Equal(t, first, second)
}

func TestHasPermission(t *testing.T) {
	bits := PermViewChannels | PermSendMessages
	assert.True(t, HasPermission(bits, PermViewChannels))
	assert.False(t, HasPermission(bits, PermKickMembers))
	assert.True(t, HasPermission(bits, PermViewChannels|PermSendMessages))
}
