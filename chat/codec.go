package chat

import (
	"bytes"
	"errors"
	"strings"

	"github.com/Zereker/chatsock"
)

// Codec errors. Any decode error means the peer broke the protocol.
var (
	ErrFraming        = errors.New("chat: malformed body")
	ErrFieldTooLong   = errors.New("chat: field too long")
	ErrUnknownType    = errors.New("chat: unknown object type")
	ErrBufferTooSmall = errors.New("chat: buffer too small")
)

// Size returns the encoded body size of obj.
func Size(obj Object) int {
	n := 1
	for _, f := range fields(obj) {
		n += len(f.value) + 1
	}
	return n
}

// Encode writes the body of obj into dst and returns the bytes written.
// Nothing is written to dst unless the whole body fits.
func Encode(dst []byte, obj Object) (int, error) {
	fs := fields(obj)
	if fs == nil {
		return 0, ErrUnknownType
	}
	for _, f := range fs {
		if strings.IndexByte(f.value, 0) >= 0 {
			return 0, ErrFraming
		}
		if len(f.value) > f.max {
			return 0, ErrFieldTooLong
		}
	}

	if len(dst) < Size(obj) {
		return 0, ErrBufferTooSmall
	}

	dst[0] = byte(obj.Kind())
	n := 1
	for _, f := range fs {
		n += copy(dst[n:], f.value)
		dst[n] = 0
		n++
	}
	return n, nil
}

// Decode parses a frame body. Bytes after the last field are ignored.
// No object is returned on error.
func Decode(body []byte) (Object, error) {
	if len(body) == 0 {
		return nil, ErrUnknownType
	}

	d := decoder{buf: body[1:]}
	var obj Object
	switch Kind(body[0]) {
	case KindMessage:
		var m Message
		m.Sender = d.field(MaxSenderLen)
		m.Text = d.field(MaxTextLen)
		obj = m
	case KindMemberJoin:
		obj = MemberJoin{Sender: d.field(MaxSenderLen)}
	case KindMemberLeave:
		obj = MemberLeave{Sender: d.field(MaxSenderLen)}
	default:
		return nil, ErrUnknownType
	}

	if d.err != nil {
		return nil, d.err
	}
	return obj, nil
}

// Marshal returns obj as a complete wire frame, header included.
func Marshal(obj Object) ([]byte, error) {
	frame := make([]byte, chatsock.HeaderSize+Size(obj))
	n, err := Encode(frame[chatsock.HeaderSize:], obj)
	if err != nil {
		return nil, err
	}
	total := chatsock.HeaderSize + n
	if total > chatsock.BufferSize {
		return nil, chatsock.ErrBodyTooLarge
	}
	frame[0], frame[1] = byte(total>>8), byte(total)
	return frame[:total], nil
}

// NewFrame encodes obj into a buffer taken from pool (the default pool if
// nil). The caller owns the returned reference.
func NewFrame(pool *chatsock.BufferPool, obj Object) (*chatsock.Buffer, error) {
	var body [chatsock.MaxBodySize]byte
	n, err := Encode(body[:], obj)
	if err != nil {
		return nil, err
	}

	if pool == nil {
		pool = chatsock.DefaultPool()
	}
	b, err := pool.Get()
	if err != nil {
		return nil, err
	}
	if err := b.SetBody(body[:n]); err != nil {
		b.Release()
		return nil, err
	}
	return b, nil
}

// DecodeFrame parses the body of a received frame.
func DecodeFrame(b *chatsock.Buffer) (Object, error) {
	return Decode(b.Body())
}

type field struct {
	value string
	max   int
}

func fields(obj Object) []field {
	switch o := obj.(type) {
	case Message:
		return []field{{o.Sender, MaxSenderLen}, {o.Text, MaxTextLen}}
	case MemberJoin:
		return []field{{o.Sender, MaxSenderLen}}
	case MemberLeave:
		return []field{{o.Sender, MaxSenderLen}}
	}
	return nil
}

// decoder walks zero-terminated fields. After the first error every
// further field reads as empty and the error sticks.
type decoder struct {
	buf []byte
	err error
}

func (d *decoder) field(max int) string {
	if d.err != nil {
		return ""
	}
	i := bytes.IndexByte(d.buf, 0)
	if i < 0 {
		d.err = ErrFraming
		return ""
	}
	if i > max {
		d.err = ErrFieldTooLong
		return ""
	}
	s := string(d.buf[:i])
	d.buf = d.buf[i+1:]
	return s
}
