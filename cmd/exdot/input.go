package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/example/go-exdot/internal/safetensors"
)

// operand is one loaded input vector. rows is the leading dimension when the
// source records a shape, 0 otherwise.
type operand struct {
	data []float64
	rows int
}

// loadOperand reads an input argument:
//
//	path.safetensors[:tensor]  a tensor (the first one when no name is given)
//	-                          text on stdin
//	path                       text file
//
// Text inputs hold numbers separated by whitespace or commas; lines starting
// with '#' are ignored. nan, inf and -inf are accepted, and literals beyond
// the float64 range read as ±Inf.
func loadOperand(arg string, stdin io.Reader) (operand, error) {
	if path, name, ok := splitTensorArg(arg); ok {
		t, err := safetensors.ReadTensor(path, name)
		if err != nil {
			return operand{}, err
		}
		op := operand{data: t.Data}
		if len(t.Shape) == 2 {
			op.rows = t.Rows()
		}
		return op, nil
	}

	if arg == "-" {
		data, err := parseNumbers(stdin)
		if err != nil {
			return operand{}, fmt.Errorf("stdin: %w", err)
		}
		return operand{data: data}, nil
	}

	f, err := os.Open(arg)
	if err != nil {
		return operand{}, err
	}
	defer f.Close()

	data, err := parseNumbers(f)
	if err != nil {
		return operand{}, fmt.Errorf("%s: %w", arg, err)
	}
	return operand{data: data}, nil
}

func splitTensorArg(arg string) (path, name string, ok bool) {
	const ext = ".safetensors"
	i := strings.Index(arg, ext)
	if i < 0 {
		return "", "", false
	}
	path = arg[:i+len(ext)]
	rest := arg[i+len(ext):]
	switch {
	case rest == "":
		return path, "", true
	case strings.HasPrefix(rest, ":"):
		return path, rest[1:], true
	default:
		return "", "", false
	}
}

func parseNumbers(r io.Reader) ([]float64, error) {
	var out []float64
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.FieldsFunc(text, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t'
		})
		for _, field := range fields {
			v, err := strconv.ParseFloat(field, 64)
			if errors.Is(err, strconv.ErrRange) {
				// Overflow: v is already ±Inf.
				err = nil
			}
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid number %q", line, field)
			}
			out = append(out, v)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// loadOperands loads every argument. Standard input can be read only once,
// so at most one argument may be "-".
func loadOperands(args []string, stdin io.Reader) ([]operand, error) {
	stdinArg := -1
	for i, arg := range args {
		if arg != "-" {
			continue
		}
		if stdinArg >= 0 {
			return nil, fmt.Errorf("arguments %d and %d both read stdin; at most one may be \"-\"", stdinArg+1, i+1)
		}
		stdinArg = i
	}

	ops := make([]operand, len(args))
	for i, arg := range args {
		op, err := loadOperand(arg, stdin)
		if err != nil {
			return nil, err
		}
		ops[i] = op
	}
	return ops, nil
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
