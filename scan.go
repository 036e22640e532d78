package pop3

// Streaming byte-level primitives. Each one consumes a prefix of input
// matching a fixed micro-grammar and reports how many more octets it
// would need before it could resolve an input that ran off the end
// mid-match. None of them look beyond what they need to decide their
// own result; the decision to request more bytes rather than guess is
// what lets Parse produce correct "needs N more octets" answers for
// every prefix of every legal message (see package doc).

// CRLF is the universal POP3 line terminator.
var CRLF = []byte{0x0D, 0x0A}

// SPACE is the single octet used to separate command/response tokens.
var SPACE = []byte{0x20}

func isSpace(b byte) bool {
	return b == ' '
}

func isAlpha(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

func isAlphaNumeric(b byte) bool {
	return isAlpha(b) || (b >= '0' && b <= '9')
}

// takeWhile1 consumes the longest run of bytes satisfying pred,
// requiring at least one. If the input is exhausted while every byte
// examined still satisfies pred, the caller cannot tell whether more
// matching bytes are coming, so takeWhile1 reports Incomplete rather
// than guessing that the run has ended.
func takeWhile1(pred func(byte) bool, input []byte) (rest, token []byte, err *Error) {
	i := 0
	for i < len(input) && pred(input[i]) {
		i++
	}
	if i == len(input) {
		return nil, nil, errIncompleteSize(1)
	}
	if i == 0 {
		return nil, nil, errParse("expected at least one matching octet")
	}
	return input[i:], input[:i], nil
}

// tagBytes consumes the literal byte sequence lit from the head of
// input. A mismatch found within the bytes actually available is a
// hard failure (it can never be satisfied by more data); running out
// of input while every byte examined still agrees with lit is
// Incomplete for however many octets of lit remain unchecked.
func tagBytes(lit, input []byte) (rest []byte, err *Error) {
	n := len(lit)
	k := n
	if len(input) < k {
		k = len(input)
	}
	for i := 0; i < k; i++ {
		if input[i] != lit[i] {
			return nil, errParse("literal mismatch")
		}
	}
	if len(input) < n {
		return nil, errIncompleteSize(n - len(input))
	}
	return input[n:], nil
}

// crlf consumes exactly CRLF from the head of input.
func crlf(input []byte) (rest []byte, err *Error) {
	return tagBytes(CRLF, input)
}

// space1 consumes one or more space octets.
func space1(input []byte) (rest []byte, err *Error) {
	r, _, e := takeWhile1(isSpace, input)
	if e != nil {
		return nil, e
	}
	return r, nil
}

// optSpace1 consumes one or more space octets if present, and is a
// no-op (not an error) if the head of input is not a space. An
// Incomplete from the underlying space1 still propagates: running off
// the end mid-run of spaces is genuinely ambiguous, not "absent".
func optSpace1(input []byte) (rest []byte, err *Error) {
	r, e := space1(input)
	if e != nil {
		if e.Kind == KindIncomplete {
			return nil, e
		}
		return input, nil
	}
	return r, nil
}

// alpha1 consumes one or more ASCII alphabetic octets.
func alpha1(input []byte) (rest, token []byte, err *Error) {
	return takeWhile1(isAlpha, input)
}

// alphaNumeric1 consumes one or more ASCII alphanumeric octets.
func alphaNumeric1(input []byte) (rest, token []byte, err *Error) {
	return takeWhile1(isAlphaNumeric, input)
}

// notLineEnding consumes every octet up to, but not including, the
// next CR or LF. It may consume zero octets. Running off the end of
// input without finding a line ending is Incomplete, since the octet
// that terminates the line (or another printable octet) might be the
// very next one supplied.
func notLineEnding(input []byte) (rest, token []byte, err *Error) {
	i := 0
	for i < len(input) && input[i] != '\r' && input[i] != '\n' {
		i++
	}
	if i == len(input) {
		return nil, nil, errIncompleteSize(1)
	}
	return input[i:], input[:i], nil
}
