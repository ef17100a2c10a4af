package model

import "linkgate/internal/connector"

// ConnectorView 已连接连接器的只读视图
type ConnectorView struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	ProtocolOutputType  string `json:"protocolOutputType"`
	ProtocolInputType   string `json:"protocolInputType"`
	ConnectorOutputType string `json:"connectorOutputType"`
	ConnectorInputType  string `json:"connectorInputType"`
	SupportedEncryption string `json:"supportedEncryption"`
	EnabledEncryption   string `json:"enabledEncryption"`
	Polling             bool   `json:"polling"`
	State               string `json:"state"`
}

// NewConnectorView 由连接器信息生成视图
func NewConnectorView(c connector.Info) ConnectorView {
	return ConnectorView{
		ID:                  c.ID(),
		Name:                c.Name(),
		ProtocolOutputType:  c.ProtocolOutputType().String(),
		ProtocolInputType:   c.ProtocolInputType().String(),
		ConnectorOutputType: c.ConnectorOutputType().String(),
		ConnectorInputType:  c.ConnectorInputType().String(),
		SupportedEncryption: c.SupportedEncryption(),
		EnabledEncryption:   c.EnabledEncryption(),
		Polling:             c.IsPolling(),
		State:               c.ConnectorState().String(),
	}
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Error string `json:"error"`
}
