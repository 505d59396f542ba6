package notify

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"strings"
)

// Message kinds.
const (
	KindVerifyEmail      = "verify_email"
	KindPasswordReset    = "password_reset"
	KindPasswordChanged  = "password_changed"
	KindTwoFactorChanged = "two_factor_changed"
)

// Message is one outgoing email.
type Message struct {
	Kind    string
	To      string
	Subject string
	Text    string
	HTML    string

	// Token is the raw single-use token embedded in the message, if any.
	Token string
}

// Sender delivers a message synchronously.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// Templates renders the account emails.
type Templates struct {
	AppName string
	// BaseURL is prefixed to the verify and reset links.
	BaseURL string
}

// VerifyEmail asks the recipient to confirm their address.
func (t Templates) VerifyEmail(to, name, token string) Message {
	link := t.link("/auth/verify-email", token)
	return Message{
		Kind:    KindVerifyEmail,
		To:      to,
		Subject: "Confirm your " + t.AppName + " email address",
		Text:    fmt.Sprintf("Hi %s,\n\nConfirm your email address by opening:\n%s\n\nThe link expires in 24 hours.\n", greeting(name), link),
		HTML: fmt.Sprintf(`<p>Hi %s,</p><p>Confirm your email address by opening <a href="%s">this link</a>.</p><p>The link expires in 24 hours.</p>`,
			html.EscapeString(greeting(name)), html.EscapeString(link)),
		Token: token,
	}
}

// PasswordReset carries a reset link.
func (t Templates) PasswordReset(to, token string) Message {
	link := t.link("/auth/reset-password", token)
	return Message{
		Kind:    KindPasswordReset,
		To:      to,
		Subject: t.AppName + " password reset",
		Text:    fmt.Sprintf("We received a request to reset your password.\n\nReset it here:\n%s\n\nThe link expires in 1 hour. If you did not ask for this, ignore this email.\n", link),
		HTML: fmt.Sprintf(`<p>We received a request to reset your password.</p><p><a href="%s">Reset your password</a>. The link expires in 1 hour.</p><p>If you did not ask for this, ignore this email.</p>`,
			html.EscapeString(link)),
		Token: token,
	}
}

// PasswordChanged tells the owner their password changed.
func (t Templates) PasswordChanged(to string) Message {
	return Message{
		Kind:    KindPasswordChanged,
		To:      to,
		Subject: "Your " + t.AppName + " password was changed",
		Text:    "Your password was changed and every signed-in device was signed out.\nIf this was not you, reset your password immediately.\n",
		HTML:    "<p>Your password was changed and every signed-in device was signed out.</p><p>If this was not you, reset your password immediately.</p>",
	}
}

// TwoFactorChanged tells the owner two-factor settings changed.
func (t Templates) TwoFactorChanged(to string, enabled bool) Message {
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	return Message{
		Kind:    KindTwoFactorChanged,
		To:      to,
		Subject: "Two-factor authentication " + state,
		Text:    "Two-factor authentication was " + state + " on your " + t.AppName + " account.\n",
		HTML:    "<p>Two-factor authentication was " + state + " on your " + html.EscapeString(t.AppName) + " account.</p>",
	}
}

func (t Templates) link(path, token string) string {
	return strings.TrimRight(t.BaseURL, "/") + path + "?token=" + url.QueryEscape(token)
}

func greeting(name string) string {
	if strings.TrimSpace(name) == "" {
		return "there"
	}
	return name
}
