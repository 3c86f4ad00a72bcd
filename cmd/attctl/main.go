// attctl runs the bicopter attitude and rate control task: the control
// loop itself, a websocket telemetry stream and an optional MQTT bridge
// for pilot input and ground-station output.
//
// SIGHUP reloads the parameter file; SIGINT and SIGTERM shut down.
package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/andrelim435/bicopter/bus"
	"github.com/andrelim435/bicopter/config"
	"github.com/andrelim435/bicopter/control"
	"github.com/andrelim435/bicopter/mqttbus"
	"github.com/andrelim435/bicopter/telemetry"
)

func main() {
	var (
		configPath = flag.String("config", "", "parameter file (yaml), empty for built-in defaults")
		addr       = flag.String("addr", ":8080", "telemetry listen address")
		broker     = flag.String("broker", "", "mqtt broker url, e.g. tcp://localhost:1883; empty disables the bridge")
		clientID   = flag.String("client-id", "attctl", "mqtt client id")
		prefix     = flag.String("mqtt-prefix", "bicopter", "mqtt topic prefix")
	)
	flag.Parse()

	b := bus.New()
	store, err := config.NewStore(*configPath, b)
	if err != nil {
		log.Fatal("attctl: ", err)
	}

	loop := control.New(b, store)
	go loop.Run()

	room := telemetry.NewRoom()
	go room.Run()
	listener := telemetry.NewListener(b, room)
	go listener.Run()

	http.Handle("/telemetry", room)
	go func() {
		log.Println("attctl: telemetry on", *addr)
		if err := http.ListenAndServe(*addr, nil); err != nil {
			log.Fatal("attctl: ListenAndServe: ", err)
		}
	}()

	var bridge *mqttbus.Bridge
	if *broker != "" {
		bridge, err = mqttbus.New(b, *broker, *clientID, *prefix)
		if err != nil {
			log.Fatal("attctl: ", err)
		}
		if err := bridge.Start(); err != nil {
			log.Fatal("attctl: ", err)
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	for s := range sig {
		if s == syscall.SIGHUP {
			if store.Reload() == nil {
				log.Println("attctl: parameters reloaded")
			}
			continue
		}
		break
	}

	log.Println("attctl: shutting down")
	loop.Stop()
	listener.Stop()
	if bridge != nil {
		bridge.Stop()
	}
}
