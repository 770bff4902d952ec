package net

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	// ShareScheme prefixes links that open a board in the desktop app.
	ShareScheme = "collabboard://"
	// DefaultPort is where hosts serve the relay hub.
	DefaultPort = 8888

	RoomCodeLength = 6
	roomAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var ErrBadShareLink = errors.New("invalid share link")

// NewRoomCode returns a random six character upper-case alphanumeric code.
func NewRoomCode() string {
	id := uuid.New()
	code := make([]byte, RoomCodeLength)
	for i := range code {
		code[i] = roomAlphabet[int(id[i])%len(roomAlphabet)]
	}
	return string(code)
}

// NormalizeRoom upper-cases a typed room code and reports whether it is
// usable.
func NormalizeRoom(room string) (string, bool) {
	room = strings.ToUpper(strings.TrimSpace(room))
	if room == "" {
		return "", false
	}
	for _, c := range room {
		if !strings.ContainsRune(roomAlphabet, c) {
			return "", false
		}
	}
	return room, true
}

// ShareLink formats the link another participant uses to join.
func ShareLink(host string, port int, room string) string {
	return fmt.Sprintf("%s%s:%d/%s", ShareScheme, host, port, room)
}

// ParseShareLink splits a share link into the hub address and room code.
// A bare host:port/ROOM is accepted too.
func ParseShareLink(link string) (addr, room string, err error) {
	rest := strings.TrimPrefix(strings.TrimSpace(link), ShareScheme)
	rest = strings.TrimSuffix(rest, "/")
	slash := strings.LastIndexByte(rest, '/')
	if slash <= 0 {
		return "", "", fmt.Errorf("%w: %q", ErrBadShareLink, link)
	}
	addr = rest[:slash]
	room, ok := NormalizeRoom(rest[slash+1:])
	if !ok {
		return "", "", fmt.Errorf("%w: bad room in %q", ErrBadShareLink, link)
	}
	host, port, ok := strings.Cut(addr, ":")
	if !ok || host == "" {
		return "", "", fmt.Errorf("%w: missing port in %q", ErrBadShareLink, link)
	}
	if _, err := strconv.Atoi(port); err != nil {
		return "", "", fmt.Errorf("%w: bad port in %q", ErrBadShareLink, link)
	}
	return addr, room, nil
}

// RoomURL is the websocket endpoint of a room on the hub at addr.
func RoomURL(addr, room, client string) string {
	u := url.URL{
		Scheme:   "ws",
		Host:     addr,
		Path:     "/rooms/" + room,
		RawQuery: url.Values{"client": {client}}.Encode(),
	}
	return u.String()
}
