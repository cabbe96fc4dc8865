package main

import (
	"go.uber.org/fx"

	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/auth"
	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/config"
	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/db"
	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/logger"
	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/proto"
	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/service"
	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/store"
	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/transport"
	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/validation"
)

func main() {
	fx.New(
		config.Module,
		logger.Module,
		db.Module,
		store.Module,
		validation.Module,
		auth.Module,
		service.Module,
		transport.Module,
		proto.Module,
		fx.Invoke(func(*transport.HTTPServer, *proto.BookmarkerServerImpl) {}),
	).Run()
}
