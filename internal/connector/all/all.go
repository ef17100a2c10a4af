// Package all 注册全部内置连接器，入口程序以空白导入使用
package all

import (
	_ "linkgate/internal/connector/file"
	_ "linkgate/internal/connector/influx"
	_ "linkgate/internal/connector/kafka"
	_ "linkgate/internal/connector/mongo"
	_ "linkgate/internal/connector/mqtt"
	_ "linkgate/internal/connector/tcp"
	_ "linkgate/internal/connector/udp"
)
