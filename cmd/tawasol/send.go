package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/chat"
)

type Send struct {
	Room int64  `short:"r" long:"room" required:"true" description:"room id"`
	To   int64  `short:"t" long:"to" description:"user id of the receiver; omit for a room message"`
	File string `short:"f" long:"file" description:"attach this file"`
	Type string `long:"type" choice:"text" choice:"image" choice:"document" choice:"voice" description:"message type (guessed from --file when omitted)"`
}

func (x *Send) Execute(args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()
	if _, err := e.token(); err != nil {
		return err
	}

	d := chat.Draft{
		Key:  chat.Key{RoomID: x.Room, PeerID: x.To},
		Body: strings.Join(args, " "),
		Type: chat.MessageType(x.Type),
	}
	if x.File != "" {
		data, err := os.ReadFile(x.File)
		if err != nil {
			return err
		}
		d.Upload = &chat.Upload{Name: filepath.Base(x.File), Data: data}
		if d.Type == "" {
			d.Type = guessType(x.File)
		}
	} else if d.Body == "" {
		return errors.New("nothing to send")
	}
	if d.Type == "" {
		d.Type = chat.TypeText
	}

	m, err := e.api.Send(context.Background(), d, uuid.NewString())
	if err != nil {
		return err
	}
	fmt.Printf("sent message %s\n", m.ID)
	return nil
}

func guessType(path string) chat.MessageType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		return chat.TypeImage
	case ".mp3", ".ogg", ".oga", ".m4a", ".wav", ".webm":
		return chat.TypeVoice
	default:
		return chat.TypeDocument
	}
}
