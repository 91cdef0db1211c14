/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"html"
	"log"
	"strings"
	"time"

	"github.com/Seednode/elements/rooms"
)

func logf(cfg *Config, format string, args ...any) {
	if !cfg.verbose {
		return
	}

	log.Printf("%s | "+format, append([]any{time.Now().Format(logDate)}, args...)...)
}

// errorCodes maps failures to the stable codes sent to clients. The first
// match wins.
var errorCodes = []struct {
	err  error
	code string
}{
	{rooms.ErrSessionNotFound, "session_not_found"},
	{rooms.ErrSessionFull, "session_full"},
	{rooms.ErrNameTaken, "name_taken"},
	{rooms.ErrInvalidName, "invalid_name"},
	{rooms.ErrInvalidElement, "invalid_element"},
	{rooms.ErrInvalidCapacity, "invalid_capacity"},
	{rooms.ErrUnknownPlayer, "unknown_player"},
	{rooms.ErrWrongStatus, "wrong_status"},
	{rooms.ErrIdentifierCollision, "identifier_collision"},
	{errUnknownMessage, "unknown_message"},
	{errSessionMismatch, "session_mismatch"},
	{errNotJoined, "not_joined"},
	{errAlreadyJoined, "already_joined"},
	{errPlayerMismatch, "player_mismatch"},
	{errInvalidRequest, "invalid_request"},
}

func errorCode(err error) string {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return "internal_error"
}

func newPage(title, body string) string {
	var htmlBody strings.Builder

	htmlBody.WriteString(`<!DOCTYPE html><html lang="en"><head>`)
	htmlBody.WriteString(getFavicon())
	htmlBody.WriteString(`<style>`)
	htmlBody.WriteString(`html,body,a{display:block;height:100%;width:100%;text-decoration:none;color:inherit;cursor:auto;}</style>`)
	htmlBody.WriteString(fmt.Sprintf("<title>%s</title></head>", html.EscapeString(title)))
	htmlBody.WriteString(fmt.Sprintf("<body><a href=\"/\">%s</a></body></html>", html.EscapeString(body)))

	return htmlBody.String()
}
