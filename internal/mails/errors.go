package mails

import "errors"

var (
	ErrMailNotFound      = errors.New("mail not found")
	ErrMailAlreadyExists = errors.New("mail already exists")
)
