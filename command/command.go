// Package command turns a decoded RESP array into the tagged Command
// variant the store, bus, and AOF all speak.
package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/altilium/altilium/resp"
)

// Kind tags which operation a Command performs.
type Kind int

const (
	Ping Kind = iota
	Auth
	Get
	Set
	HSet
	HGet
	HDel
	Del
	Keys
	TypeOf
	Expire
	TTL
	PTTL
)

// Command is a single client request after parsing.
type Command struct {
	Kind Kind

	Key     string
	Field   string
	Value   []byte
	Keys    []string
	Pattern string
	Echo    []byte
	Auth    string

	// Expiry is an absolute deadline for Set/Expire; zero means none.
	Expiry time.Time

	// Raw holds the original argument vector (command name included,
	// canonicalised to uppercase) so the AOF writer and bus consumers
	// can re-encode the exact wire form.
	Raw [][]byte

	// Reply, when non-nil, is where the writer sends the authoritative
	// outcome of a mutating command once applied: DEL's removed count,
	// HSET/HDEL/EXPIRE's boolean-as-0-or-1 result, and whether the
	// command was rejected because the key holds the wrong kind of
	// value. A connection handler awaiting this value must not answer
	// the client from a snapshot taken before publication, since later
	// commands may already be queued ahead of the reply. Waiting also
	// gives the connection read-your-writes ordering: once the outcome
	// arrives the mutation is applied, so a subsequent read on the same
	// connection observes it.
	Reply chan Outcome
}

// Outcome is the authoritative result the writer reports after
// applying a mutating command.
type Outcome struct {
	// N is the command's integer result: DEL's removed count,
	// HSET/HDEL/EXPIRE's 0-or-1. Zero for SET.
	N int64
	// WrongType is true when the command was rejected because the key
	// holds a value of a different kind; N is 0 in that case.
	WrongType bool
}

// Mutating reports whether the command changes store state and must
// therefore be published on the command bus.
func (c Command) Mutating() bool {
	switch c.Kind {
	case Set, HSet, HDel, Del, Expire:
		return true
	default:
		return false
	}
}

// AOFForm returns the argument vector to record in the append-only
// log. It is identical to the client's original command except that
// Set's and Expire's relative TTL options (EX/PX/PEXPIRE) are
// rewritten to an absolute millisecond deadline (PXAT/PEXPIREAT), so
// replaying the log at a later wall-clock time reproduces the same
// expiry instead of recomputing it relative to replay time.
func (c Command) AOFForm() [][]byte {
	switch c.Kind {
	case Set:
		if c.Expiry.IsZero() {
			return c.Raw
		}
		return [][]byte{
			[]byte("SET"), []byte(c.Key), c.Value,
			[]byte("PXAT"), []byte(strconv.FormatInt(c.Expiry.UnixMilli(), 10)),
		}
	case Expire:
		return [][]byte{
			[]byte("PEXPIREAT"), []byte(c.Key),
			[]byte(strconv.FormatInt(c.Expiry.UnixMilli(), 10)),
		}
	default:
		return c.Raw
	}
}

// ErrProtocol is wrapped by every parse error, so a handler can turn
// any of them into a "-ERR ..." reply.
var ErrProtocol = errors.New("protocol error")

// Parse extracts a Command from a decoded RESP array of bulk strings.
// now resolves relative TTLs (EX/PX) to absolute deadlines.
func Parse(elems []resp.Value, now time.Time) (Command, error) {
	if len(elems) == 0 {
		return Command{}, protoErr("empty command")
	}
	args := make([][]byte, len(elems))
	for i, e := range elems {
		if e.Type != resp.TypeBulkString || e.IsNull {
			return Command{}, protoErr("command arguments must be bulk strings")
		}
		args[i] = e.Bulk
	}

	name := strings.ToUpper(string(args[0]))
	args[0] = []byte(name)
	rest := args[1:]

	switch name {
	case "PING":
		if len(rest) > 1 {
			return Command{}, arityErr("ping")
		}
		c := Command{Kind: Ping, Raw: args}
		if len(rest) == 1 {
			c.Echo = rest[0]
		}
		return c, nil

	case "AUTH":
		if len(rest) != 1 {
			return Command{}, arityErr("auth")
		}
		return Command{Kind: Auth, Auth: string(rest[0]), Raw: args}, nil

	case "GET":
		if len(rest) != 1 {
			return Command{}, arityErr("get")
		}
		return Command{Kind: Get, Key: string(rest[0]), Raw: args}, nil

	case "SET":
		return parseSet(rest, now, args)

	case "HSET":
		if len(rest) != 3 {
			return Command{}, arityErr("hset")
		}
		return Command{Kind: HSet, Key: string(rest[0]), Field: string(rest[1]), Value: rest[2], Raw: args}, nil

	case "HGET":
		if len(rest) != 2 {
			return Command{}, arityErr("hget")
		}
		return Command{Kind: HGet, Key: string(rest[0]), Field: string(rest[1]), Raw: args}, nil

	case "HDEL":
		if len(rest) != 2 {
			return Command{}, arityErr("hdel")
		}
		return Command{Kind: HDel, Key: string(rest[0]), Field: string(rest[1]), Raw: args}, nil

	case "DEL":
		if len(rest) < 1 {
			return Command{}, arityErr("del")
		}
		keys := make([]string, len(rest))
		for i, k := range rest {
			keys[i] = string(k)
		}
		return Command{Kind: Del, Keys: keys, Raw: args}, nil

	case "KEYS":
		if len(rest) != 1 {
			return Command{}, arityErr("keys")
		}
		return Command{Kind: Keys, Pattern: string(rest[0]), Raw: args}, nil

	case "TYPE":
		if len(rest) != 1 {
			return Command{}, arityErr("type")
		}
		return Command{Kind: TypeOf, Key: string(rest[0]), Raw: args}, nil

	case "EXPIRE", "PEXPIRE":
		if len(rest) != 2 {
			return Command{}, arityErr(strings.ToLower(name))
		}
		n, err := strconv.ParseInt(string(rest[1]), 10, 64)
		if err != nil {
			return Command{}, protoErr("value is not an integer or out of range")
		}
		d := time.Duration(n) * time.Second
		if name == "PEXPIRE" {
			d = time.Duration(n) * time.Millisecond
		}
		return Command{Kind: Expire, Key: string(rest[0]), Expiry: now.Add(d), Raw: args}, nil

	case "EXPIREAT", "PEXPIREAT":
		// Absolute-deadline forms, accepted for log replay: the AOF
		// writer rewrites EXPIRE/PEXPIRE into PEXPIREAT so replay
		// reproduces the original deadline instead of one relative to
		// replay time (see Command.AOFForm).
		if len(rest) != 2 {
			return Command{}, arityErr(strings.ToLower(name))
		}
		n, err := strconv.ParseInt(string(rest[1]), 10, 64)
		if err != nil {
			return Command{}, protoErr("value is not an integer or out of range")
		}
		deadline := time.Unix(n, 0)
		if name == "PEXPIREAT" {
			deadline = time.UnixMilli(n)
		}
		return Command{Kind: Expire, Key: string(rest[0]), Expiry: deadline, Raw: args}, nil

	case "TTL", "PTTL":
		if len(rest) != 1 {
			return Command{}, arityErr(strings.ToLower(name))
		}
		kind := TTL
		if name == "PTTL" {
			kind = PTTL
		}
		return Command{Kind: kind, Key: string(rest[0]), Raw: args}, nil

	default:
		return Command{}, fmt.Errorf("%w: unknown command '%s'", ErrProtocol, strings.ToLower(name))
	}
}

func parseSet(rest [][]byte, now time.Time, raw [][]byte) (Command, error) {
	if len(rest) < 2 {
		return Command{}, arityErr("set")
	}
	c := Command{Kind: Set, Key: string(rest[0]), Value: rest[1], Raw: raw}
	opts := rest[2:]
	for len(opts) > 0 {
		switch strings.ToUpper(string(opts[0])) {
		case "EX":
			if len(opts) < 2 {
				return Command{}, syntaxErr()
			}
			n, err := strconv.ParseInt(string(opts[1]), 10, 64)
			if err != nil {
				return Command{}, protoErr("value is not an integer or out of range")
			}
			c.Expiry = now.Add(time.Duration(n) * time.Second)
			opts = opts[2:]
		case "PX":
			if len(opts) < 2 {
				return Command{}, syntaxErr()
			}
			n, err := strconv.ParseInt(string(opts[1]), 10, 64)
			if err != nil {
				return Command{}, protoErr("value is not an integer or out of range")
			}
			c.Expiry = now.Add(time.Duration(n) * time.Millisecond)
			opts = opts[2:]
		case "EXAT":
			// Absolute-deadline forms (EXAT in seconds, PXAT in
			// milliseconds). Command.AOFForm rewrites a SET's expiry
			// to PXAT, which log replay parses below.
			if len(opts) < 2 {
				return Command{}, syntaxErr()
			}
			n, err := strconv.ParseInt(string(opts[1]), 10, 64)
			if err != nil {
				return Command{}, protoErr("value is not an integer or out of range")
			}
			c.Expiry = time.Unix(n, 0)
			opts = opts[2:]
		case "PXAT":
			if len(opts) < 2 {
				return Command{}, syntaxErr()
			}
			n, err := strconv.ParseInt(string(opts[1]), 10, 64)
			if err != nil {
				return Command{}, protoErr("value is not an integer or out of range")
			}
			c.Expiry = time.UnixMilli(n)
			opts = opts[2:]
		default:
			return Command{}, syntaxErr()
		}
	}
	return c, nil
}

func arityErr(cmd string) error {
	return fmt.Errorf("%w: wrong number of arguments for '%s' command", ErrProtocol, cmd)
}

func syntaxErr() error {
	return fmt.Errorf("%w: syntax error", ErrProtocol)
}

func protoErr(msg string) error {
	return fmt.Errorf("%w: %s", ErrProtocol, msg)
}
