package irc

// RFC2812/RFC1459 numeric reply codes. Grounded on the teacher's
// numerics.go table verbatim; this is the protocol's own fixed
// vocabulary, not teacher-specific design.
const (
	ReplyWelcome       uint16 = 001
	ReplyYourHost      uint16 = 002
	ReplyCreated       uint16 = 003
	ReplyMyInfo        uint16 = 004
	ReplyISupport      uint16 = 005
	ReplyAway          uint16 = 301
	ReplyUnAway        uint16 = 305
	ReplyNowAway       uint16 = 306
	ReplyWhoisUser     uint16 = 311
	ReplyWhoisServer   uint16 = 312
	ReplyEndOfWho      uint16 = 315
	ReplyWhoisIdle     uint16 = 317
	ReplyEndOfWhois    uint16 = 318
	ReplyWhoisChannels uint16 = 319
	ReplyListStart     uint16 = 321
	ReplyList          uint16 = 322
	ReplyEndOfList     uint16 = 323
	ReplyNoTopic       uint16 = 331
	ReplyTopic         uint16 = 332
	ReplyTopicWhoTime  uint16 = 333
	ReplyInviting      uint16 = 341
	ReplyNames         uint16 = 353
	ReplyEndOfNames    uint16 = 366
	ReplyEndOfWhoWas   uint16 = 369
	ReplyMOTD          uint16 = 372
	ReplyMOTDStart     uint16 = 375
	ReplyEndOfMOTD     uint16 = 376
	ReplyNoSuchNick    uint16 = 401
	ReplyNoSuchChannel uint16 = 403
	ReplyCannotSendToChan uint16 = 404
	ReplyTooManyTargets   uint16 = 407
	ReplyUnknownCommand   uint16 = 421
	ReplyNoMOTD           uint16 = 422
	ReplyNoNicknameGiven  uint16 = 431
	ReplyErroneusNickname uint16 = 432
	ReplyNicknameInUse    uint16 = 433
	ReplyUserNotInChannel uint16 = 441
	ReplyNotOnChannel     uint16 = 442
	ReplyUserOnChannel    uint16 = 443
	ReplyNotRegistered    uint16 = 451
	ReplyNeedMoreParams   uint16 = 461
	ReplyAlreadyRegistered uint16 = 462
	ReplyChannelIsFull    uint16 = 471
	ReplyInviteOnlyChan   uint16 = 473
	ReplyBannedFromChan   uint16 = 474
	ReplyBadChannelName   uint16 = 476
	ReplyNoPrivileges     uint16 = 481
	ReplyChanOpPrivsNeeded uint16 = 482

	// SASL (IRCv3)
	ReplyLoggedIn    uint16 = 900
	ReplyLoggedOut   uint16 = 901
	ReplySASLSuccess uint16 = 903
	ReplySASLFail    uint16 = 904
	ReplySASLTooLong uint16 = 905
	ReplySASLAborted uint16 = 906
	ReplySASLAlready uint16 = 907
)
