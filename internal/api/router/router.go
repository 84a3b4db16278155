package router

import (
	"github.com/wb-go/wbf/ginext"

	"github.com/alimpk/filegate/internal/api/handlers/content"
	"github.com/alimpk/filegate/internal/middlewares"
)

func New(handler *content.Handler) *ginext.Engine {
	e := ginext.New()
	e.Use(middlewares.CORSMiddleware())
	e.Use(ginext.Logger())
	e.Use(ginext.Recovery())

	api := e.Group("/api")
	{
		api.POST("/posts", handler.NewPost)
		api.DELETE("/posts/:id", handler.SourceDeleted)
		api.POST("/requests", handler.RequestContent)
		api.POST("/recheck", handler.Recheck)
		api.GET("/content/:key", handler.GetContent)
	}

	return e
}
