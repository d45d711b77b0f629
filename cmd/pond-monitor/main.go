package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/pondwatch/pond-monitor/internal/pkg/application"
	"github.com/pondwatch/pond-monitor/internal/pkg/config"
	"github.com/pondwatch/pond-monitor/internal/pkg/infrastructure/logging"
	"github.com/pondwatch/pond-monitor/internal/pkg/infrastructure/repositories/database"
	"github.com/pondwatch/pond-monitor/internal/pkg/notify"
	"github.com/pondwatch/pond-monitor/internal/pkg/transport"
)

func main() {

	serviceName := "pond-monitor"

	log := logging.NewLogger()
	log.Infof("Starting up %s ...", serviceName)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration: " + err.Error())
	}

	db, err := database.NewDatabaseConnection(database.NewPostgreSQLConnector(log), log)
	if err != nil {
		log.Fatal("Failed to connect to the database: " + err.Error())
	}

	client := mqtt.NewClient(transport.NewClientOptions(cfg.MQTTBroker, cfg.MQTTClientID))
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatal("Failed to connect to the broker: " + token.Error().Error())
	}
	defer client.Disconnect(250)

	adapter := transport.NewAdapter(client, cfg.MQTTOrg, cfg.MQTTGroupID, log)

	var chat notify.ChatSender
	if cfg.TelegramToken != "" {
		sender, err := notify.NewTelegramSender(cfg.TelegramToken)
		if err != nil {
			log.Fatal("Failed to initialize the chat bot: " + err.Error())
		}
		chat = sender
		log.Infof("Chat notifications enabled")
	} else {
		log.Infof("No bot token configured, chat notifications disabled")
	}

	app := application.New(cfg, db, adapter, chat, log)
	if err := app.SubscribeAll(adapter); err != nil {
		log.Fatal("Failed to subscribe: " + err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app.SetupAndServe(ctx)
}
