package main

import (
	"github.com/webwriter-app/webwriter-sub004/server"
)

func main() {
	server.Serve()
}
