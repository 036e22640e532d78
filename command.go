package pop3

// CLIENT_COMMAND_MAX_LEN is the RFC 2449 upper bound on a client
// command line (verb + space-separated arguments + CRLF).
const CLIENT_COMMAND_MAX_LEN = 256

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// parseArgs consumes zero or more space-separated alphanumeric
// arguments from the head of input. The first argument needs no
// leading separator; every subsequent one does. If a separator is
// found but no argument follows it, the separator is left unconsumed
// and the list ends there (the separator might be leading into
// trailing whitespace before CRLF, which is not this function's
// business to consume).
func parseArgs(input []byte) (rest []byte, args [][]byte, err *Error) {
	rest = input
	r, tok, e := alphaNumeric1(rest)
	if e != nil {
		if e.Kind == KindIncomplete {
			return nil, nil, e
		}
		return rest, nil, nil
	}
	args = append(args, tok)
	rest = r

	for {
		r2, e2 := space1(rest)
		if e2 != nil {
			if e2.Kind == KindIncomplete {
				return nil, nil, e2
			}
			break
		}
		r3, tok3, e3 := alphaNumeric1(r2)
		if e3 != nil {
			if e3.Kind == KindIncomplete {
				return nil, nil, e3
			}
			break
		}
		args = append(args, tok3)
		rest = r3
	}
	return rest, args, nil
}

// checkArgumentArity reports whether the argument count numArgs
// disagrees with kw's allowed arity, per the table in the command
// grammar's §4.1 step 6.
func checkArgumentArity(kw Keyword, numArgs int) bool {
	switch kw.Kind {
	case KeywordSTAT, KeywordNOOP, KeywordRSET, KeywordQUIT, KeywordCAPA, KeywordSTLS:
		return numArgs != 0
	case KeywordSASL:
		return numArgs < 1
	case KeywordLIST, KeywordUIDL:
		return numArgs != 0 && numArgs != 1
	case KeywordRETR, KeywordDELE, KeywordUSER, KeywordPASS:
		return numArgs != 1
	case KeywordAUTH:
		return numArgs != 1 && numArgs != 2
	case KeywordTOP, KeywordAPOP:
		return numArgs != 2
	default: // KeywordUnknown: arity is not checked, already flagged
		return false
	}
}

// clientCommandTooLong implements §4.1 step 7's (intentionally
// asymmetric) length calculation: every argument, including the
// last, contributes a trailing separator octet.
func clientCommandTooLong(keywordLen int, args [][]byte) bool {
	argsLen := 0
	for _, a := range args {
		argsLen += len(a) + 1
	}
	return keywordLen+argsLen+len(CRLF) > CLIENT_COMMAND_MAX_LEN
}

// parseCommand parses one client command line from the head of
// input, per §4.1 of the core specification.
func parseCommand(input []byte) ([]byte, Message, *Error) {
	var flags ErrorFlag

	rest, rawKeyword, e := alpha1(input)
	if e != nil {
		if e.Kind == KindIncomplete {
			return nil, Message{}, e
		}
		return nil, Message{}, errParse("Invalid Keyword")
	}

	rest, e = optSpace1(rest)
	if e != nil {
		return nil, Message{}, e
	}

	keyword, e := ParseKeyword(rawKeyword)
	if e != nil {
		return nil, Message{}, e
	}

	rest, args, e := parseArgs(rest)
	if e != nil {
		return nil, Message{}, e
	}

	rest, e = crlf(rest)
	if e != nil {
		return nil, Message{}, e
	}

	if keyword.Kind == KeywordUnknown {
		flags |= FlagUnknownKeyword
	} else if checkArgumentArity(keyword, len(args)) {
		flags |= FlagIncorrectArgumentNum
	}

	if clientCommandTooLong(len(rawKeyword), args) {
		flags |= FlagCommandTooLong
	}

	ownedArgs := make([][]byte, len(args))
	for i, a := range args {
		ownedArgs[i] = cloneBytes(a)
	}

	msg := Message{
		Flags: flags,
		Inner: InnerMessage{Command: &Command{Keyword: keyword, Args: ownedArgs}},
	}
	return rest, msg, nil
}
