package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"

	"leavedesk/auth"
	"leavedesk/config"
	"leavedesk/crypto"
	"leavedesk/db"
	"leavedesk/directory"
	"leavedesk/handlers"
	"leavedesk/i18n"
	"leavedesk/ledger"

	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	if err := config.LoadConfig(*configPath); err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	if err := i18n.LoadTranslations("i18n"); err != nil {
		log.Fatalf("Error loading translations: %v", err)
	}

	auth.InitStore()

	store, err := db.InitDB(config.AppConfig.DatabasePath)
	if err != nil {
		log.Fatalf("Error opening database: %v", err)
	}
	defer store.Close()

	sealer := crypto.NewSealer(config.AppConfig.CommentSecret)
	if !sealer.Configured() {
		log.Println("No comment secret configured, leave comments are stored in plain text")
	}

	app := &handlers.App{
		Store:       store,
		Directory:   directory.New(store),
		Ledger:      ledger.New(store, sealer),
		Tokens:      auth.NewTokens(store),
		TemplateDir: "templates",
	}

	addr := fmt.Sprintf("%s:%d", config.AppConfig.ListenIP, config.AppConfig.ListenPort)
	log.Printf("Server starting on %s (%s)", addr, config.AppConfig.AppName)

	if err := http.ListenAndServe(addr, app.Handler()); err != nil {
		log.Fatal(err)
	}
}
