package main

import (
	"driftwatch/cmd/handlers"
	"driftwatch/internal/logger"
)

func main() {
	logger.Init() // Initialize the logger
	handlers.Execute()
}
