package main

import (
	"net/http"

	"github.com/joho/godotenv"

	"senarai/config/database"
	"senarai/pkg/logger"
	"senarai/router"
	"senarai/socket"
)

func main() {
	logger.Init()

	if err := godotenv.Load(); err != nil {
		logger.Sugar.Info("No .env file found, using environment variables from OS")
	}

	db := database.Connect()
	defer db.Close()

	hub := socket.NewHub()
	go hub.Run()

	handler := router.Setup(db, hub)

	logger.Sugar.Info("Go Backend listening on :8080")
	if err := http.ListenAndServe(":8080", handler); err != nil {
		logger.Sugar.Fatalf("Server exited: %v", err)
	}
}
