package resp

import (
	"bytes"
	"strconv"
)

// Encode marshals v to its wire bytes. It is a total function: every
// well-formed Value produces bytes, and it never fails.
func Encode(v Value) []byte {
	var buf bytes.Buffer
	encodeInto(&buf, v)
	return buf.Bytes()
}

func encodeInto(buf *bytes.Buffer, v Value) {
	switch v.Type {
	case TypeSimpleString:
		buf.WriteByte(byte(TypeSimpleString))
		buf.WriteString(v.Str)
		buf.WriteString(CRLF)
	case TypeError:
		buf.WriteByte(byte(TypeError))
		buf.WriteString(v.Str)
		buf.WriteString(CRLF)
	case TypeInteger:
		buf.WriteByte(byte(TypeInteger))
		buf.WriteString(strconv.FormatInt(v.Int, 10))
		buf.WriteString(CRLF)
	case TypeBulkString:
		if v.IsNull {
			buf.WriteString("$-1")
			buf.WriteString(CRLF)
			return
		}
		buf.WriteByte(byte(TypeBulkString))
		buf.WriteString(strconv.Itoa(len(v.Bulk)))
		buf.WriteString(CRLF)
		buf.Write(v.Bulk)
		buf.WriteString(CRLF)
	case TypeArray:
		if v.IsNull {
			buf.WriteString("*-1")
			buf.WriteString(CRLF)
			return
		}
		buf.WriteByte(byte(TypeArray))
		buf.WriteString(strconv.Itoa(len(v.Elems)))
		buf.WriteString(CRLF)
		for _, e := range v.Elems {
			encodeInto(buf, e)
		}
	default:
		// Unreachable for values built through the constructors, but
		// encode as a generic error rather than panic on a total
		// function's contract.
		buf.WriteByte(byte(TypeError))
		buf.WriteString("ERR internal: unencodable value")
		buf.WriteString(CRLF)
	}
}

// EncodeCommand encodes a client command as a RESP array of bulk
// strings, the wire form the AOF writer uses and clients
// use to issue requests.
func EncodeCommand(args ...[]byte) []byte {
	elems := make([]Value, len(args))
	for i, a := range args {
		elems[i] = BulkString(a)
	}
	return Encode(Array(elems))
}
