// Package session tracks which chatroom each user currently has open. The
// notifier reads it to avoid pushing chat notifications for a room the
// recipient is already looking at. Entries expire after a TTL so a client
// that disappears without closing the room stops suppressing notifications.
package session
