package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	rps        = flag.Int("rps", 1, "Messages to publish per second")
	anomaly    = flag.Float64("anomaly", 0.1, "Probability of a threshold-breaching sample (0.0-1.0)")
	mqttBroker = flag.String("broker", "localhost:1883", "MQTT broker address (host:port)")
	mqttUser   = flag.String("user", "", "MQTT username")
	mqttPass   = flag.String("pass", "", "MQTT password")
	mqttTopic  = flag.String("topic", "esp8266/sensors", "MQTT topic to publish to")
)

// sensorPayload matches the wire format emitted by the ESP8266 firmware.
type sensorPayload struct {
	Temp  float64 `json:"temp"`
	Humid float64 `json:"humid"`
}

type mockGenerator struct {
	anomalyProbability float64
	baseTemp           float64
	baseHumidity       float64
}

func newMockGenerator(anomalyProb float64) *mockGenerator {
	return &mockGenerator{
		anomalyProbability: anomalyProb,
		baseTemp:           27.0,
		baseHumidity:       60.0,
	}
}

// generate produces a sample around the baseline, occasionally spiking one
// metric above its alert threshold.
func (g *mockGenerator) generate() (sensorPayload, bool) {
	isAnomaly := rand.Float64() < g.anomalyProbability

	temp := g.baseTemp + rand.Float64()*4.0 - 2.0
	humid := g.baseHumidity + rand.Float64()*10.0 - 5.0

	if isAnomaly {
		if rand.Float64() < 0.5 {
			// warning band or critical band above the temperature threshold
			temp = 35.5 + rand.Float64()*7.0
		} else {
			humid = 81.0 + rand.Float64()*15.0
		}
	}

	return sensorPayload{
		Temp:  math.Round(temp*10) / 10,
		Humid: math.Round(humid*10) / 10,
	}, isAnomaly
}

func main() {
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Sensor data generator started",
		zap.Int("rps", *rps),
		zap.Float64("anomaly_probability", *anomaly),
		zap.String("mqtt_broker", *mqttBroker),
		zap.String("mqtt_topic", *mqttTopic),
	)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", *mqttBroker))
	opts.SetClientID(fmt.Sprintf("atmos-gen-%s", uuid.NewString()[:8]))
	if *mqttUser != "" {
		opts.SetUsername(*mqttUser)
		opts.SetPassword(*mqttPass)
	}
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)

	opts.OnConnect = func(client mqtt.Client) {
		logger.Info("Connected to MQTT broker", zap.String("broker", *mqttBroker))
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		logger.Error("MQTT connection lost", zap.Error(err))
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		logger.Fatal("Failed to connect to MQTT broker", zap.Error(token.Error()))
	}
	defer client.Disconnect(250)

	gen := newMockGenerator(*anomaly)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, stopping generator")
		cancel()
	}()

	interval := time.Second / time.Duration(*rps)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	messageCount := 0
	anomalyCount := 0
	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			elapsed := time.Since(startTime)
			logger.Info("Generator stopped",
				zap.Int("total_messages", messageCount),
				zap.Int("anomalies_generated", anomalyCount),
				zap.Duration("uptime", elapsed),
				zap.Float64("avg_rate", float64(messageCount)/elapsed.Seconds()),
			)
			return

		case <-ticker.C:
			payload, isAnomaly := gen.generate()
			if isAnomaly {
				anomalyCount++
			}

			data, err := json.Marshal(payload)
			if err != nil {
				logger.Error("Failed to marshal payload", zap.Error(err))
				continue
			}

			token := client.Publish(*mqttTopic, 0, false, data)
			if token.Wait() && token.Error() != nil {
				logger.Error("Failed to publish message", zap.Error(token.Error()))
				continue
			}

			messageCount++
			if messageCount%100 == 0 {
				logger.Info("Messages published",
					zap.Int("count", messageCount),
					zap.Int("anomalies", anomalyCount),
					zap.Float64("rate", float64(messageCount)/time.Since(startTime).Seconds()),
				)
			}

			logger.Debug("Published sample",
				zap.Float64("temp", payload.Temp),
				zap.Float64("humid", payload.Humid),
				zap.Bool("is_anomaly", isAnomaly))
		}
	}
}
