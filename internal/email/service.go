package email

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
)

// Service handles email sending via SMTP
type Service struct {
	host string
	port string
	from string

	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewService creates a new email service
func NewService(host, port, from string) *Service {
	return &Service{
		host:     host,
		port:     port,
		from:     from,
		sendMail: smtp.SendMail,
	}
}

// Send delivers an HTML message to a single recipient.
func (s *Service) Send(ctx context.Context, to string, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		s.from, to, m.Subject, m.HTML)
	return s.sendMail(net.JoinHostPort(s.host, s.port), nil, s.from, []string{to}, []byte(msg))
}
