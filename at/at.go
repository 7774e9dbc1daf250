package at

const (
	// Terminal Control
	CR     = "\r"
	LF     = "\n"
	Prefix = "AT"

	// Response Codes
	OK    = "OK"
	ERROR = "ERROR"

	// DataMarker is sent by the modem, without a line terminator, once it is
	// ready to receive the raw payload of a staged set.
	DataMarker = '@'

	// URCs (Unsolicited Result Codes)
	UrcSMSReceived   = "+HSMSRX: "
	UrcSMSContent    = "+HSMSCTX: "
	UrcDisconnected  = "+HDISCONNECTED: "
	UrcRegChange     = "+HREGCHANGE: "
	UrcSocketAccept  = "+HSOCKACCEPT: "
	UrcLocation      = "+HLOCATION: "
	UrcChargeState   = "+HCHARGESTATE: "
	UrcProtocolHello = "+HINFO: "
)

// Commands issued by the cloud client. Names exclude the AT prefix.
const (
	CmdPing         = ""
	CmdProtocol     = "+HPROTO"
	CmdConnect      = "+HCONNECT"
	CmdDisconnect   = "+HDISCONNECT"
	CmdConnStatus   = "+HCONSTATUS"
	CmdSignal       = "+CSQ"
	CmdClock        = "+CCLK"
	CmdSystem       = "+HSYS"
	CmdSMSCount     = "+HSMS"
	CmdSMSRead      = "+HSMSRD"
	CmdShutdown     = "+HSHUTDOWN"
	CmdMessageReset = "+HMRST"
	CmdTopic        = "+HTAG"
	CmdMessageWrite = "+HMWRITE"
	CmdMessageSend  = "+HMSEND"
	CmdICCID        = "+CCID"
	CmdIMEI         = "+CGSN"
	CmdOperator     = "+COPS"
	CmdListen       = "+HLISTEN"
	CmdSocketRead   = "+HSOCKRD"
	CmdSocketClose  = "+HSOCKCLOSE"
	CmdLocation     = "+HLOC"
	CmdLED          = "+HLED"
	CmdRGB          = "+HRGB"
	CmdCharge       = "+HCHARGE"
	CmdPassthrough  = "+HPASS"
)

type ResponseType int

const (
	TypeFinal ResponseType = iota // OK, ERROR
	TypeURC                       // Asynchronous notifications
	TypeData                      // Intermediate command output (+CSQ: ...)
	TypeEmpty                     // Blank line between responses
)
