package main

import "github.com/pagepilot/pagepilot/internal/app"

func main() {
	app.Run()
}
