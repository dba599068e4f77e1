package main

import (
	"github.com/rankparty/core/internal/app"
	"github.com/rankparty/core/internal/config"
)

func main() {
	cfg := config.Load()
	app.Go(cfg)
}
