package roundtable

import (
	"bytes"
	"errors"
	"strings"
)

const (
	// MaxLineLength is the longest protocol line accepted or produced,
	// excluding the CR LF delimiter.
	MaxLineLength = 512

	// MaxParams is the largest number of parameters kept for a single
	// message. Tokens past the bound are ignored.
	MaxParams = 15
)

var (
	ErrMessageTooLong    = errors.New("message too long")
	ErrPrefixOnlyMessage = errors.New("message only contains prefix")
	ErrEmptyCommand      = errors.New("message does not contain command")
)

// Message is one protocol unit: a parsed client line on the way in, or a
// reply on the way out. It is not mutated after construction.
type Message struct {
	// Session is the session this message is attached to: the sender
	// for inbound lines, the destination for outbound replies. It is
	// nil when the server itself is the source.
	Session *Session

	// Prefix is the optional message prefix (server name or sender
	// nickname). The colon is not included in this string.
	Prefix string

	// Command is the verb or 3-digit numeric code.
	Command string

	// Params contains all parameters, including the trailing parameter
	// as the last element of the slice.
	Params []string
}

// Param returns the i'th parameter or the empty string when absent.
func (m *Message) Param(i int) string {
	if i < 0 || i >= len(m.Params) {
		return ""
	}
	return m.Params[i]
}

// String serializes the message to wire text without the CR LF
// delimiter. The last parameter is written as a trailing parameter when
// it is empty, contains a space, or begins with a colon.
func (m *Message) String() string {
	var b strings.Builder
	if m.Prefix != "" {
		b.WriteByte(':')
		b.WriteString(m.Prefix)
		b.WriteByte(' ')
	}
	b.WriteString(m.Command)
	for i, p := range m.Params {
		b.WriteByte(' ')
		if i == len(m.Params)-1 && (p == "" || strings.HasPrefix(p, ":") || strings.ContainsRune(p, ' ')) {
			b.WriteByte(':')
		}
		b.WriteString(p)
	}
	return b.String()
}

// nextLine extracts the first complete line from buf: either \r\n or a
// bare \n delimits a line. It returns the bytes consumed and the line
// without its delimiter; a zero advance means no complete line is
// buffered yet.
func nextLine(buf []byte) (int, []byte) {
	i := bytes.IndexByte(buf, '\n')
	if i < 0 {
		return 0, nil
	}
	line := buf[:i]
	if len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}
	return i + 1, line
}

// ParseMessage parses a message from a single protocol line. The CR LF
// delimiter must have been removed.
func ParseMessage(msg []byte) (*Message, error) {
	if len(msg) > MaxLineLength {
		return nil, ErrMessageTooLong
	}

	var (
		prefix      string
		inPrefix    bool
		startPrefix int

		command      string
		inCommand    bool
		startCommand int

		args []string

		inStandardArg bool
		inTrailingArg bool
		startArg      int
	)

ForEachByte:
	for i, b := range msg {
		switch {
		case i == 0 && b == ':':
			inPrefix = true
			startPrefix = i + 1
		case i == 0:
			inCommand = true
			startCommand = 0
		case inPrefix && b == ' ':
			inPrefix = false
			inCommand = true
			startCommand = i + 1
			prefix = string(msg[startPrefix:i])
		case inPrefix:
			// Simply advance the index and accumulate the prefix.
		case inCommand && b == ' ':
			inCommand = false
			command = string(msg[startCommand:i])
		case inCommand:
			// Simply advance the index and accumulate the command.
		case inStandardArg && b == ' ':
			inStandardArg = false
			if len(args) < MaxParams {
				args = append(args, string(msg[startArg:i]))
			}
		case inStandardArg:
			// Simply advance the index and accumulate the argument.
		case b == ' ':
			// Skip spaces when not in an existing context.
		case b == ':':
			// Must be trailing.
			inTrailingArg = true
			startArg = i + 1
			break ForEachByte
		default:
			// Must start a new argument.
			inStandardArg = true
			startArg = i
		}
	}

	switch {
	case inPrefix:
		return nil, ErrPrefixOnlyMessage
	case inCommand && startCommand < len(msg):
		command = string(msg[startCommand:])
	case inCommand, command == "":
		return nil, ErrEmptyCommand
	case inStandardArg && len(args) < MaxParams:
		args = append(args, string(msg[startArg:]))
	case inTrailingArg && len(args) >= MaxParams:
		// Over the parameter bound; the trailing text is dropped too.
	case inTrailingArg && startArg < len(msg):
		args = append(args, string(msg[startArg:]))
	case inTrailingArg:
		args = append(args, "") // Allow empty string as a special case
	}

	return &Message{
		Prefix:  prefix,
		Command: command,
		Params:  args,
	}, nil
}
