package pop3

// SERVER_RESP_FIRST_LINE_MAX_LEN is the RFC 2449 upper bound on a
// server response's first line (status token + header + CRLF).
const SERVER_RESP_FIRST_LINE_MAX_LEN = 512

var dotCRLF = []byte(".\r\n")

// parseStatusToken consumes the literal "+OK" or "-ERR" from the head
// of input. Trying "+OK" first and returning its Incomplete result
// immediately (without attempting "-ERR") is deliberate: "+OK" is
// Incomplete only for empty input or a strict prefix of "+OK". A
// non-empty such prefix starts with '+', which "-ERR" can never match;
// for empty input the result is Size(3), the smaller of the two needs.
func parseStatusToken(input []byte) (rest []byte, raw []byte, err *Error) {
	if r, e := tagBytes([]byte("+OK"), input); e == nil {
		return r, []byte("+OK"), nil
	} else if e.Kind == KindIncomplete {
		return nil, nil, e
	}
	if r, e := tagBytes([]byte("-ERR"), input); e == nil {
		return r, []byte("-ERR"), nil
	} else if e.Kind == KindIncomplete {
		return nil, nil, e
	}
	return nil, nil, errParse("Unknown Status")
}

func statusFromToken(raw []byte) Status {
	if string(raw) == "+OK" {
		return StatusOK
	}
	return StatusERR
}

// nonMultiline tries the single-line alternative of §4.2 step 3: the
// response body is empty if the bytes right after the header's CRLF
// are end-of-buffer, or begin with another status line. matched is
// true only when one of those held; a false, nil result means the
// caller should fall back to the multi-line alternative.
func nonMultiline(input []byte) (matched bool, err *Error) {
	if len(input) == 0 {
		return true, nil
	}
	if _, e := tagBytes([]byte("+OK"), input); e == nil {
		return true, nil
	} else if e.Kind == KindIncomplete {
		return false, e
	}
	if _, e := tagBytes([]byte("-ERR"), input); e == nil {
		return true, nil
	} else if e.Kind == KindIncomplete {
		return false, e
	}
	return false, nil
}

// parseMultilineItem parses one body line of a multi-line response:
// an optional single leading dot (byte-stuffing) is stripped, then
// the remainder of the line up to CRLF is the data.
func parseMultilineItem(input []byte) (rest, line []byte, err *Error) {
	cur := input
	if len(cur) > 0 && cur[0] == '.' {
		cur = cur[1:]
	}
	rest, token, e := notLineEnding(cur)
	if e != nil {
		return nil, nil, e
	}
	rest, e = crlf(rest)
	if e != nil {
		return nil, nil, e
	}
	return rest, token, nil
}

// parseMultilines consumes body lines until the terminator ".\r\n" is
// reached, per §4.2 step 3's multi-line alternative.
func parseMultilines(input []byte) (rest []byte, lines [][]byte, err *Error) {
	cur := input
	for {
		if r, e := tagBytes(dotCRLF, cur); e == nil {
			return r, lines, nil
		} else if e.Kind == KindIncomplete {
			return nil, nil, e
		}
		r, line, e := parseMultilineItem(cur)
		if e != nil {
			return nil, nil, e
		}
		lines = append(lines, line)
		cur = r
	}
}

// serverResponseTooLong implements §4.2 step 4's length calculation.
func serverResponseTooLong(statusLen, headerLen int) bool {
	return statusLen+len(SPACE)+headerLen+len(CRLF) > SERVER_RESP_FIRST_LINE_MAX_LEN
}

// parseResponse parses one server response from the head of input,
// per §4.2 of the core specification. The multi-line/single-line
// disambiguation in step 3 is stateless: when input ends right after
// the status line's CRLF, the response is returned as single-line even
// if a multi-line body has yet to arrive (§4.2's "Known limitation").
func parseResponse(input []byte) ([]byte, Message, *Error) {
	var flags ErrorFlag

	rest, rawStatus, e := parseStatusToken(input)
	if e != nil {
		return nil, Message{}, e
	}
	status := statusFromToken(rawStatus)

	rest, e = optSpace1(rest)
	if e != nil {
		return nil, Message{}, e
	}

	rest, header, e := notLineEnding(rest)
	if e != nil {
		return nil, Message{}, e
	}
	rest, e = crlf(rest)
	if e != nil {
		return nil, Message{}, e
	}

	var data [][]byte
	matched, e := nonMultiline(rest)
	if e != nil {
		return nil, Message{}, e
	}
	if !matched {
		var lines [][]byte
		rest, lines, e = parseMultilines(rest)
		if e != nil {
			return nil, Message{}, e
		}
		// parseMultilines returns a nil slice when the body has zero
		// lines; force non-nil here so data's nilness alone still
		// distinguishes "multi-line, empty body" from "single-line".
		if lines == nil {
			lines = [][]byte{}
		}
		data = lines
	}

	if serverResponseTooLong(len(rawStatus), len(header)) {
		flags |= FlagResponseTooLong
	}

	// data stays nil for the single-line alternative; only the
	// multi-line branch above ever assigns it, including to a non-nil
	// empty slice when the body has zero lines. Preserve that
	// distinction through cloning so Serialize can tell "single-line"
	// apart from "multi-line, empty body".
	var ownedData [][]byte
	if data != nil {
		ownedData = make([][]byte, len(data))
		for i, d := range data {
			ownedData[i] = cloneBytes(d)
		}
	}

	msg := Message{
		Flags: flags,
		Inner: InnerMessage{Response: &Response{
			Status: status,
			Header: cloneBytes(header),
			Data:   ownedData,
		}},
	}
	return rest, msg, nil
}
