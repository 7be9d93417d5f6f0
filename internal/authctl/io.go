package authctl

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// IO ввод и вывод операторских команд
type IO interface {
	Println(a ...any)
	Printf(format string, a ...any)
	ReadPassword(prompt string) (string, error)
}

// Stdio реализует IO поверх stdin/stdout
type Stdio struct {
	in  *os.File
	out io.Writer
}

// NewStdio создает IO для терминала
func NewStdio() *Stdio {
	return &Stdio{in: os.Stdin, out: os.Stdout}
}

// Println печатает строку
func (s *Stdio) Println(a ...any) {
	_, _ = fmt.Fprintln(s.out, a...)
}

// Printf печатает по формату
func (s *Stdio) Printf(format string, a ...any) {
	_, _ = fmt.Fprintf(s.out, format, a...)
}

// ReadPassword читает пароль без отображения на экране.
// Если stdin не терминал (pipe), читается одна строка.
func (s *Stdio) ReadPassword(prompt string) (string, error) {
	s.Printf("%s", prompt)

	fd := int(s.in.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(s.in).ReadString('\n')
		if err != nil && line == "" {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	pwBytes, err := term.ReadPassword(fd)
	s.Println("")
	if err != nil {
		return "", err
	}
	return string(pwBytes), nil
}
