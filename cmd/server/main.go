package main

import (
	"github.com/joho/godotenv"

	"brand-catalog/internal/app"
)

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()
	app.Execute()
}
