// Package notify renders and delivers account emails.
//
// [Templates] builds a [Message]; a [Sender] delivers it (SMTP via gomail,
// or the log in development); a [Dispatcher] decouples delivery from the
// request path with a bounded queue and a send-rate throttle.
package notify
