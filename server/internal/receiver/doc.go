// Package receiver ingests readings published over MQTT.
//
// ESP32 nodes that cannot reach the HTTP API publish the same JSON body they
// would POST to /predict on a topic such as biofloc/<device-id>/reading. The
// receiver subscribes with a wildcard filter (default "biofloc/+/reading"),
// takes the device id from the wildcard level, validates the payload with
// quality.ParseReading and hands it to the registry. Invalid payloads are
// counted and logged; nothing is published back.
package receiver
