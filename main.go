package main

import "malariad/internal/app"

func main() {
	app.Main()
}
