package main

import "github.com/stoik/cex/services/relay-service/internal/app"

func main() {
	app.Execute()
}
