package main

import (
	"context"
	"fmt"
)

type Register struct {
	Username    string `short:"u" long:"username" required:"true" description:"account name"`
	Password    string `short:"p" long:"password" required:"true" description:"at least 8 characters"`
	DisplayName string `short:"n" long:"name" description:"name shown to other users"`
}

func (x *Register) Execute(args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	res, err := e.api.Register(context.Background(), x.Username, x.Password, x.DisplayName)
	if err != nil {
		return err
	}
	if err := e.tokens.Save(res.AccessToken); err != nil {
		return err
	}
	fmt.Printf("registered %s (id %d)\n", res.User.Username, res.User.ID)
	return nil
}

type Login struct {
	Username string `short:"u" long:"username" required:"true" description:"account name"`
	Password string `short:"p" long:"password" required:"true" description:"account password"`
}

func (x *Login) Execute(args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	res, err := e.api.Login(context.Background(), x.Username, x.Password)
	if err != nil {
		return err
	}
	if err := e.tokens.Save(res.AccessToken); err != nil {
		return err
	}
	log.Debugf("token saved to %s", e.tokens.Path)
	fmt.Printf("logged in as %s (id %d)\n", res.User.Username, res.User.ID)
	return nil
}

type Rooms struct {
	Create string `short:"c" long:"create" description:"create a room with this name"`
}

func (x *Rooms) Execute(args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()
	if _, err := e.token(); err != nil {
		return err
	}

	ctx := context.Background()
	if x.Create != "" {
		room, err := e.api.CreateRoom(ctx, x.Create)
		if err != nil {
			return err
		}
		fmt.Printf("created room %d %q\n", room.ID, room.Name)
		return nil
	}
	rooms, err := e.api.Rooms(ctx)
	if err != nil {
		return err
	}
	for _, r := range rooms {
		fmt.Printf("%6d  %s\n", r.ID, r.Name)
	}
	return nil
}
