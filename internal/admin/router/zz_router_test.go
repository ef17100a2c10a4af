package router_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"

	"linkgate/internal/admin/model"
	"linkgate/internal/admin/router"
	"linkgate/internal/connector"
	"linkgate/internal/pkg"

	"github.com/gin-gonic/gin"
	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/zap"
)

type stubInfo struct {
	id string
}

func (s *stubInfo) ID() string                        { return s.id }
func (s *stubInfo) Name() string                      { return "Stub" }
func (s *stubInfo) ProtocolOutputType() reflect.Type  { return reflect.TypeOf((*[]byte)(nil)).Elem() }
func (s *stubInfo) ProtocolInputType() reflect.Type   { return reflect.TypeOf((*[]byte)(nil)).Elem() }
func (s *stubInfo) ConnectorOutputType() reflect.Type { return reflect.TypeOf((*string)(nil)).Elem() }
func (s *stubInfo) ConnectorInputType() reflect.Type  { return reflect.TypeOf((*string)(nil)).Elem() }
func (s *stubInfo) SupportedEncryption() string       { return "TLS" }
func (s *stubInfo) EnabledEncryption() string         { return "" }
func (s *stubInfo) ConnectorState() connector.State   { return connector.Connected }
func (s *stubInfo) IsPolling() bool                   { return true }

func init() {
	connector.Register(connector.Descriptor{
		ID:           "zz-stub",
		Name:         "Stub",
		Capabilities: connector.Capabilities{SupportsEvents: true, SupportedQueries: []string{"string"}},
	})
}

func perform(r *gin.Engine, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := pkg.NewPerformanceMetrics()
	r := router.SetupRouter(zap.NewNop(), metrics)

	Convey("管理接口路由", t, func() {
		Convey("健康检查", func() {
			w := perform(r, http.MethodGet, "/health")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldEqual, "OK")
		})

		Convey("列出已连接的连接器", func() {
			info := &stubInfo{id: "stub-1"}
			connector.RegisterConnector(info)
			defer connector.UnregisterConnector(info)

			w := perform(r, http.MethodGet, "/api/v1/connectors")
			So(w.Code, ShouldEqual, http.StatusOK)
			var views []model.ConnectorView
			So(json.Unmarshal(w.Body.Bytes(), &views), ShouldBeNil)
			So(views, ShouldHaveLength, 1)
			So(views[0], ShouldResemble, model.ConnectorView{
				ID:                  "stub-1",
				Name:                "Stub",
				ProtocolOutputType:  "[]uint8",
				ProtocolInputType:   "[]uint8",
				ConnectorOutputType: "string",
				ConnectorInputType:  "string",
				SupportedEncryption: "TLS",
				Polling:             true,
				State:               "connected",
			})

			w = perform(r, http.MethodGet, "/api/v1/connectors/stub-1")
			So(w.Code, ShouldEqual, http.StatusOK)
		})

		Convey("未知连接器返回 404", func() {
			w := perform(r, http.MethodGet, "/api/v1/connectors/nope")
			So(w.Code, ShouldEqual, http.StatusNotFound)
			So(w.Body.String(), ShouldContainSubstring, "nope")
		})

		Convey("列出连接器类型", func() {
			w := perform(r, http.MethodGet, "/api/v1/descriptors")
			So(w.Code, ShouldEqual, http.StatusOK)
			var ds []connector.Descriptor
			So(json.Unmarshal(w.Body.Bytes(), &ds), ShouldBeNil)
			var found bool
			for _, d := range ds {
				if d.ID == "zz-stub" {
					found = true
					So(d.Capabilities.SupportsEvents, ShouldBeTrue)
					So(d.Capabilities.SupportedQueries, ShouldResemble, []string{"string"})
				}
			}
			So(found, ShouldBeTrue)

			So(perform(r, http.MethodGet, "/api/v1/descriptors/zz-stub").Code, ShouldEqual, http.StatusOK)
			So(perform(r, http.MethodGet, "/api/v1/descriptors/none").Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("每个请求都计入请求计数", func() {
			before := atomic.LoadInt64(&metrics.RequestCount)
			perform(r, http.MethodGet, "/health")
			perform(r, http.MethodGet, "/api/v1/connectors/nope")
			So(atomic.LoadInt64(&metrics.RequestCount), ShouldEqual, before+2)
		})

		Convey("暴露 prometheus 指标", func() {
			metrics.IncMsgReceived("Stub")
			w := perform(r, http.MethodGet, "/metrics")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(strings.Contains(w.Body.String(), `linkgate_messages_total{stage="received",type="Stub"} 1`), ShouldBeTrue)
		})
	})
}
