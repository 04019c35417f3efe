package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ryansname/batteryapp/src/databroker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	topicSetCharging     = "batteryapp/charging/setIsCharging"
	topicSetDischarging  = "batteryapp/charging/setIsDischarging"
	topicCellTemperature = "batteryapp/cell/getTemperature"
)

func decodeReply(t *testing.T, reply Reply) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(reply.Payload(), &out))
	return out
}

func TestSetChargingWhileNotDischarging(t *testing.T) {
	d, store, _ := newTestDispatcher(t)

	reply := handle(t, d, topicSetCharging, `{"requestId": "req-1", "state": true}`)

	assert.Equal(t, topicSetCharging+"/response", reply.Topic)
	assert.Equal(t, StatusOK, reply.Response.Result.Status)
	assert.Equal(t, "Set charging state to: true", reply.Response.Result.Message)
	assert.Equal(t, []databroker.Path{databroker.PathIsCharging}, store.writes)
	assert.True(t, store.boolAt(t, databroker.PathIsCharging))

	assert.JSONEq(t,
		`{"requestId":"req-1","result":{"status":0,"message":"Set charging state to: true"}}`,
		string(reply.Payload()))
}

func TestSetChargingWhileDischarging(t *testing.T) {
	d, store, _ := newTestDispatcher(t)
	store.put(t, databroker.PathIsDischarging, databroker.ScalarValue(databroker.Bool(true)))

	reply := handle(t, d, topicSetCharging, `{"requestId": "req-2", "state": true}`)

	assert.Equal(t, StatusFailed, reply.Response.Result.Status)
	assert.Equal(t,
		"Not allowed to change charging state because discharging state is true and not false",
		reply.Response.Result.Message)
	assert.Equal(t, ClassPolicy, reply.Class)
	assert.Zero(t, store.writeCount())
	require.NotNil(t, reply.Response.RequestID)
	assert.Equal(t, "req-2", *reply.Response.RequestID)
}

func TestGetCellTemperature(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	reply := handle(t, d, topicCellTemperature, `{"cellPosition": 2}`)

	assert.Equal(t, StatusOK, reply.Response.Result.Status)
	assert.Equal(t, "Cell 2 temperature = 25.5", reply.Response.Result.Message)
	assert.Nil(t, reply.Response.RequestID)
	assert.NotContains(t, decodeReply(t, reply), "requestId")
}

func TestGetCellTemperatureOutOfRange(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	reply := handle(t, d, topicCellTemperature, `{"cellPosition": 9}`)

	assert.Equal(t, StatusFailed, reply.Response.Result.Status)
	assert.Equal(t, "Cell 9 out of range (4 cells)", reply.Response.Result.Message)
	assert.Equal(t, ClassIndex, reply.Class)
}

func TestGetCellTemperatureNegativePosition(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	reply := handle(t, d, topicCellTemperature, `{"cellPosition": -1}`)

	assert.Equal(t, StatusFailed, reply.Response.Result.Status)
	assert.Equal(t, "Cell -1 out of range (4 cells)", reply.Response.Result.Message)
	assert.Equal(t, ClassIndex, reply.Class)
}

func TestSetChargingValidationRejected(t *testing.T) {
	d, store, _ := newTestDispatcher(t)
	store.setErr[databroker.PathIsCharging] = &databroker.ValidationError{
		Path:   databroker.PathIsCharging,
		Value:  databroker.ScalarValue(databroker.Bool(true)),
		Reason: "charger not connected",
	}

	reply := handle(t, d, topicSetCharging, `{"requestId": "req-5", "state": true}`)

	assert.Equal(t, StatusFailed, reply.Response.Result.Status)
	assert.Equal(t, ClassValidation, reply.Class)
	assert.Equal(t,
		"Failed to set charging state to true, error: value true rejected for "+
			"Vehicle.Powertrain.TractionBattery.Charging.IsCharging: charger not connected",
		reply.Response.Result.Message)
}

func TestSetDischargingGenericFailureHidesDetail(t *testing.T) {
	d, store, _ := newTestDispatcher(t)
	store.setErr[databroker.PathIsDischarging] = errors.New("grpc: secret internal detail")

	reply := handle(t, d, topicSetDischarging, `{"requestId": "req-6", "state": true}`)

	assert.Equal(t, StatusFailed, reply.Response.Result.Status)
	assert.Equal(t, "Exception on set discharging state", reply.Response.Result.Message)
	assert.Equal(t, ClassConnectivity, reply.Class)
}

func TestGetterStoreFailure(t *testing.T) {
	d, store, _ := newTestDispatcher(t)
	store.getErr[databroker.PathNetCapacity] = errors.New("timeout")

	reply := handle(t, d, "batteryapp/getNetCapacity", ``)

	assert.Equal(t, StatusFailed, reply.Response.Result.Status)
	assert.Equal(t, "Failed to read net capacity", reply.Response.Result.Message)
}

func TestDecodeFailures(t *testing.T) {
	tests := []struct {
		name        string
		topic       string
		payload     string
		wantMessage string
		wantID      *string
	}{
		{
			name:        "malformed command",
			topic:       topicSetCharging,
			payload:     `{"requestId": "a", "state": tru`,
			wantMessage: "Invalid request: malformed JSON",
		},
		{
			name:        "missing state echoes id",
			topic:       topicSetCharging,
			payload:     `{"requestId": "b"}`,
			wantMessage: "Invalid request: state: required",
			wantID:      strPtr("b"),
		},
		{
			name:        "wrong state type echoes id",
			topic:       topicSetDischarging,
			payload:     `{"requestId": "c", "state": "yes"}`,
			wantMessage: "Invalid request: state: expected bool",
			wantID:      strPtr("c"),
		},
		{
			name:        "missing request id",
			topic:       topicSetDischarging,
			payload:     `{"state": false}`,
			wantMessage: "Invalid request: requestId: required",
		},
		{
			name:        "missing cell position",
			topic:       topicCellTemperature,
			payload:     `{}`,
			wantMessage: "Invalid request: cellPosition: required",
		},
		{
			name:        "fractional cell position",
			topic:       topicCellTemperature,
			payload:     `{"cellPosition": 1.5}`,
			wantMessage: "Invalid request: cellPosition: expected int",
		},
		{
			name:        "not an object",
			topic:       topicCellTemperature,
			payload:     `[1]`,
			wantMessage: "Invalid request: payload must be a JSON object",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, store, _ := newTestDispatcher(t)

			reply := handle(t, d, tt.topic, tt.payload)

			assert.Equal(t, tt.topic+"/response", reply.Topic)
			assert.Equal(t, StatusFailed, reply.Response.Result.Status)
			assert.Equal(t, ClassDecode, reply.Class)
			assert.Contains(t, reply.Response.Result.Message, tt.wantMessage)
			assert.Equal(t, tt.wantID, reply.Response.RequestID)
			assert.Zero(t, store.writeCount())
		})
	}
}

func TestUnknownTopicIsDropped(t *testing.T) {
	d, _, observer := newTestDispatcher(t)

	_, ok := d.Handle(context.Background(), Message{Topic: "batteryapp/unknown", Payload: []byte(`{}`)})

	assert.False(t, ok)
	assert.Equal(t, []string{"batteryapp/unknown"}, observer.dropped)
	assert.Empty(t, observer.handled)
}

// panickingSignals blows up on every call
type panickingSignals struct{}

func (panickingSignals) Read(context.Context, databroker.Path) (databroker.Value, error) {
	panic("nil broker client")
}

func (panickingSignals) ReadAt(context.Context, databroker.Path, int) (databroker.Scalar, error) {
	panic("nil broker client")
}

func (panickingSignals) Write(context.Context, databroker.Path, databroker.Value) error {
	panic("nil broker client")
}

func TestHandlerPanicStillResponds(t *testing.T) {
	routes, err := NewRouteTable(DefaultRoutes(DefaultPrefix)...)
	require.NoError(t, err)
	observer := &recordingObserver{}
	d := NewDispatcher(routes, panickingSignals{}, observer)

	reply := handle(t, d, topicSetCharging, `{"requestId": "p", "state": true}`)
	assert.Equal(t, StatusFailed, reply.Response.Result.Status)
	assert.Equal(t, "Exception on set charging state", reply.Response.Result.Message)
	assert.Equal(t, ClassInternal, reply.Class)
	require.NotNil(t, reply.Response.RequestID)
	assert.Equal(t, "p", *reply.Response.RequestID)

	reply = handle(t, d, "batteryapp/getGrossCapacity", ``)
	assert.Equal(t, "Failed to read gross capacity", reply.Response.Result.Message)

	require.Len(t, observer.handled, 2)
	assert.Equal(t, ClassInternal, observer.handled[1].class)
}

func TestEveryRouteAnswersExactlyOnce(t *testing.T) {
	d, _, observer := newTestDispatcher(t)

	payloads := map[Access]map[Kind]string{
		AccessGet: {
			KindScalar:  ``,
			KindIndexed: `{"cellPosition": 0}`,
		},
		AccessGuardedSet: {
			KindScalar: `{"requestId": "all", "state": false}`,
		},
	}

	for _, route := range d.Routes().Routes() {
		reply, ok := d.Handle(context.Background(), Message{
			Topic:   route.Topic,
			Payload: []byte(payloads[route.Access][route.Kind]),
		})
		require.True(t, ok, route.Topic)
		assert.Equal(t, route.ReplyTopic(), reply.Topic)
		assert.Contains(t, []int{StatusOK, StatusFailed}, reply.Response.Result.Status)
		assert.Equal(t, StatusOK, reply.Response.Result.Status, "%s: %s", route.Topic, reply.Response.Result.Message)
	}

	assert.Len(t, observer.handled, 14)
}

func TestGetterMessages(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	tests := []struct {
		topic, payload, want string
	}{
		{"batteryapp/temperature/getAverage", ``, "Average temperature = 25"},
		{"batteryapp/cell/getVoltage", `{"cellPosition": 3}`, "Cell 3 voltage = 3.73"},
		{"batteryapp/getGrossCapacity", `{}`, "Gross capacity: 90"},
		{"batteryapp/stateOfCharge/getDisplayed", ``, "Displayed state of charge: 80"},
		{"batteryapp/charging/getIsCharging", ``, "Is charging: false"},
		{"batteryapp/cell/getIsDischarging", `{"cellPosition": 1}`, "Cell 1 is discharging: false"},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			reply := handle(t, d, tt.topic, tt.payload)
			assert.Equal(t, tt.want, reply.Response.Result.Message)
		})
	}
}

func TestGetterIgnoresRequestID(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	reply := handle(t, d, "batteryapp/charging/getIsDischarging", `{"requestId": "x"}`)

	assert.Equal(t, StatusOK, reply.Response.Result.Status)
	assert.Nil(t, reply.Response.RequestID)
}

func TestObserverSeesClass(t *testing.T) {
	d, store, observer := newTestDispatcher(t)
	store.put(t, databroker.PathIsCharging, databroker.ScalarValue(databroker.Bool(true)))

	handle(t, d, topicSetDischarging, `{"requestId": "o", "state": true}`)
	handle(t, d, topicCellTemperature, `{"cellPosition": 1}`)

	require.Len(t, observer.handled, 2)
	assert.Equal(t, handledEvent{topic: topicSetDischarging, class: ClassPolicy}, observer.handled[0])
	assert.Equal(t, handledEvent{topic: topicCellTemperature, class: ClassNone}, observer.handled[1])
}

func strPtr(s string) *string {
	return &s
}
