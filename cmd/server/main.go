package main

import (
	"github.com/OpenPecha/webuddhist/backend/internal/server"
	"github.com/OpenPecha/webuddhist/backend/internal/util"
	"github.com/OpenPecha/webuddhist/backend/pkg/logger"
	"github.com/OpenPecha/webuddhist/backend/pkg/logger/console"

	_ "github.com/lib/pq"
)

func main() {
	util.LoadEnv()

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: util.GetEnvBool("DEBUG", false),
		JSON:  util.GetEnv("LOG_FORMAT") == "json",
	})
	logger.Init(consoleLogger)

	server.Init()
}
