// Package chat defines the chat objects exchanged between client and server
// and their wire encoding inside a chatsock frame body.
//
// A body is a one-byte kind tag followed by the kind's string fields, each
// written as its bytes and a terminating zero byte:
//
//	Message      0x00 sender\0 text\0
//	MemberJoin   0x01 sender\0
//	MemberLeave  0x02 sender\0
package chat

import "strconv"

// Field bounds, in bytes, excluding the terminator.
const (
	MaxSenderLen = 36
	MaxTextLen   = 512
)

// Kind is the wire tag of a chat object.
type Kind uint8

const (
	KindMessage Kind = iota
	KindMemberJoin
	KindMemberLeave
)

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindMemberJoin:
		return "member_join"
	case KindMemberLeave:
		return "member_leave"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Object is one of Message, MemberJoin or MemberLeave.
type Object interface {
	Kind() Kind
	object()
}

// Message is a line of chat text.
type Message struct {
	Sender string
	Text   string
}

// MemberJoin announces a member entering the chat.
type MemberJoin struct {
	Sender string
}

// MemberLeave announces a member leaving the chat.
type MemberLeave struct {
	Sender string
}

func (Message) Kind() Kind     { return KindMessage }
func (MemberJoin) Kind() Kind  { return KindMemberJoin }
func (MemberLeave) Kind() Kind { return KindMemberLeave }

func (Message) object()     {}
func (MemberJoin) object()  {}
func (MemberLeave) object() {}
