package main

import (
	courier "github.com/putto11262002/courier/app"
)

func main() {
	app := courier.New(nil, nil)
	app.Start()
}
