// Package protocol defines the wire protocol shared by the text and voice
// planes: newline-delimited UTF-8 command lines on the text port and
// length-prefixed binary frames on the voice port.
package protocol

import "strings"

// Client → server commands.
const (
	CmdRegister      = "REGISTER"
	CmdLogin         = "LOGIN"
	CmdMsg           = "MSG"
	CmdTyping        = "TYPING"
	CmdPing          = "PING"
	CmdCreateChannel = "CREATE_CHANNEL"
	CmdDeleteChannel = "DELETE_CHANNEL"
	CmdJoinChannel   = "JOIN_CHANNEL"
	CmdLeaveChannel  = "LEAVE_CHANNEL"
)

// Server → client responses and events.
const (
	RespRegOK    = "REG_OK"
	RespRegFail  = "REG_FAIL"
	RespAuthOK   = "AUTH_OK"
	RespAuthFail = "AUTH_FAIL"
	RespPong     = "PONG"

	EvtUserlist          = "USERLIST"
	EvtChannelList       = "CHANNEL_LIST"
	EvtChannelUsers      = "CHANNEL_USERS"
	EvtChannelCreated    = "CHANNEL_CREATED"
	EvtChannelDeleted    = "CHANNEL_DELETED"
	EvtChannelDeleteFail = "CHANNEL_DELETE_FAIL"
	EvtUserJoinedChannel = "USER_JOINED_CHANNEL"
	EvtUserLeftChannel   = "USER_LEFT_CHANNEL"
	EvtSystem            = "SYSTEM"
)

// ParseCommand splits a protocol line on the first ':' into command and
// payload. The payload may itself contain further colons; a line without a
// colon is a bare command with an empty payload.
func ParseCommand(line string) (cmd, payload string) {
	cmd, payload, _ = strings.Cut(line, ":")
	return cmd, payload
}
