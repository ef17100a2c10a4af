package api

import (
	"net/http"

	"linkgate/internal/admin/model"
	"linkgate/internal/connector"

	"github.com/gin-gonic/gin"
)

func errorResponse(c *gin.Context, code int, message string) {
	c.JSON(code, model.ErrorResponse{Error: message})
}

// GetConnectors 获取已连接的连接器，顺序为连接顺序
func GetConnectors(c *gin.Context) {
	infos := connector.Connectors()
	views := make([]model.ConnectorView, 0, len(infos))
	for _, info := range infos {
		views = append(views, model.NewConnectorView(info))
	}
	c.JSON(http.StatusOK, views)
}

// GetConnectorByID 按 ID 获取已连接的连接器
func GetConnectorByID(c *gin.Context) {
	id := c.Param("connectorId")
	for _, info := range connector.Connectors() {
		if info.ID() == id {
			c.JSON(http.StatusOK, model.NewConnectorView(info))
			return
		}
	}
	errorResponse(c, http.StatusNotFound, "未找到连接器: "+id)
}

// GetDescriptors 获取全部已注册的连接器类型
func GetDescriptors(c *gin.Context) {
	c.JSON(http.StatusOK, connector.Descriptors())
}

// GetDescriptorByID 按 ID 获取连接器类型
func GetDescriptorByID(c *gin.Context) {
	id := c.Param("descriptorId")
	d, ok := connector.Lookup(id)
	if !ok {
		errorResponse(c, http.StatusNotFound, "未找到连接器类型: "+id)
		return
	}
	c.JSON(http.StatusOK, d)
}
