package router

import (
	"github.com/blues/tds/internal/config"
	"github.com/blues/tds/internal/handler"
	"github.com/blues/tds/internal/logic"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func Setup(db *gorm.DB, distributionLogic *logic.DistributionLogic, cfg *config.Config) *gin.Engine {
	r := gin.Default()

	// 中间件
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "token-distribution-service",
		})
	})

	// API版本组
	v1 := r.Group("/api/v1")
	{
		distributionHandler := handler.NewDistributionHandler(db, distributionLogic)
		campaigns := v1.Group("/campaigns")
		{
			campaigns.POST("/:id/distribute", distributionHandler.StartDistribution)
			campaigns.POST("/:id/distribute/retry", distributionHandler.RetryDistribution)
			campaigns.GET("/:id/distributions", distributionHandler.GetDistributions)
			campaigns.GET("/:id/draw", distributionHandler.GetRandomDraw)
		}
	}

	return r
}

// CORS中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, X-Wallet-Address")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
