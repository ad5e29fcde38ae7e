package smtp

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var responseLine = regexp.MustCompile(`^(\d{3})([- ])(?:(\d+\.\d+\.\d+) )?(.*)`)

var lineBreak = regexp.MustCompile(`\r?\n`)

// pendingBlock accumulates the lines of a reply until its final line arrives.
type pendingBlock struct {
	dataLines  []string
	rawLines   []string
	statusCode int
}

func (b *pendingBlock) reset() {
	b.dataLines = nil
	b.rawLines = nil
	b.statusCode = 0
}

// Parser turns raw text chunks into Responses. Parse errors are reported to
// onError and never stop the stream.
type Parser struct {
	remainder  string
	block      pendingBlock
	closed     bool
	onResponse func(Response)
	onError    func(error)
}

func NewParser(onResponse func(Response), onError func(error)) *Parser {
	if onResponse == nil {
		onResponse = func(Response) {}
	}
	if onError == nil {
		onError = func(error) {}
	}
	return &Parser{
		onResponse: onResponse,
		onError:    onError,
	}
}

// Feed processes every complete line of remainder+chunk and keeps the
// trailing fragment for the next call.
func (p *Parser) Feed(chunk string) error {
	if p.closed {
		return usageError("parser feed", ErrParserClosed)
	}

	lines := lineBreak.Split(p.remainder+chunk, -1)
	p.remainder = lines[len(lines)-1]
	for _, line := range lines[:len(lines)-1] {
		p.processLine(line)
	}
	return nil
}

// Finish flushes trailing and any buffered fragment as a final line and
// closes the parser.
func (p *Parser) Finish(trailing string) error {
	if p.closed {
		return usageError("parser finish", ErrParserClosed)
	}

	if trailing != "" {
		if err := p.Feed(trailing); err != nil {
			return err
		}
	}
	if p.remainder != "" {
		line := p.remainder
		p.remainder = ""
		p.processLine(line)
	}
	p.closed = true
	return nil
}

func (p *Parser) processLine(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}

	match := responseLine.FindStringSubmatch(line)
	if match == nil {
		p.onError(&Error{
			Kind: KindMalformedResponse,
			Op:   "parse",
			Err:  fmt.Errorf("%w: %q", ErrMalformedLine, line),
		})
		r := newResponse(p.block.statusCode, "", line, line)
		r.Success = false
		p.block.reset()
		p.onResponse(r)
		return
	}

	code, _ := strconv.Atoi(match[1])
	p.block.dataLines = append(p.block.dataLines, match[4])
	p.block.rawLines = append(p.block.rawLines, line)

	if match[2] == "-" {
		if p.block.statusCode != 0 && p.block.statusCode != code {
			p.onError(&Error{
				Kind: KindMalformedResponse,
				Op:   "parse",
				Err:  fmt.Errorf("%w: got %d, expected %d", ErrInconsistentStatusCode, code, p.block.statusCode),
			})
		} else if p.block.statusCode == 0 {
			p.block.statusCode = code
		}
		return
	}

	r := newResponse(code, match[3], strings.Join(p.block.dataLines, "\n"), strings.Join(p.block.rawLines, "\n"))
	p.block.reset()
	p.onResponse(r)
}
