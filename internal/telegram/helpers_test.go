package telegram

import (
	"github.com/gin-gonic/gin"
)

func ginTestEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}
