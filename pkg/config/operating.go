package config

import (
	"log"
	"strconv"
)

const (
	ProtocolCoAP = "coap"
	ProtocolHTTP = "http"

	DefaultSamplingRateSeconds = 60
	DefaultMotionAlertSeconds  = 15

	// MinMotionAlertSeconds is exclusive: the alert window must exceed it
	MinMotionAlertSeconds = 10
)

// Operating is the process-wide configuration distributed to sensing nodes.
// It is built once at startup and never mutated after broadcast.
type Operating struct {
	Protocol            string
	SamplingRateSeconds int
	MotionAlertSeconds  int
}

// DefaultOperating returns the configuration used when no flags are given
func DefaultOperating() Operating {
	return Operating{
		Protocol:            ProtocolCoAP,
		SamplingRateSeconds: DefaultSamplingRateSeconds,
		MotionAlertSeconds:  DefaultMotionAlertSeconds,
	}
}

// Validated returns a copy of o with invalid values reset to safe defaults.
// Every correction is logged; none of them is fatal.
func (o Operating) Validated() Operating {
	if o.Protocol != ProtocolCoAP && o.Protocol != ProtocolHTTP {
		log.Printf("ConfigError: protocol %q is not one of coap, http. Set to default value of %s.", o.Protocol, ProtocolCoAP)
		o.Protocol = ProtocolCoAP
	}
	if o.SamplingRateSeconds <= 0 {
		log.Printf("ConfigError: sampling_rate must be positive. Set to default value of %d seconds.", DefaultSamplingRateSeconds)
		o.SamplingRateSeconds = DefaultSamplingRateSeconds
	}
	if o.MotionAlertSeconds <= MinMotionAlertSeconds {
		log.Printf("ConfigError: motion_alert must be greater than %d seconds. Set to default value of %d seconds.",
			MinMotionAlertSeconds, DefaultMotionAlertSeconds)
		o.MotionAlertSeconds = DefaultMotionAlertSeconds
	}
	return o
}

// Values returns the broadcast key/value pairs in publish order.
// Keys match the topic suffixes the sensing nodes subscribe to.
func (o Operating) Values() []KeyValue {
	return []KeyValue{
		{Key: "protocol", Value: o.Protocol},
		{Key: "sampling_rate", Value: strconv.Itoa(o.SamplingRateSeconds)},
		{Key: "motion_alert", Value: strconv.Itoa(o.MotionAlertSeconds)},
	}
}

// KeyValue is one broadcast configuration entry
type KeyValue struct {
	Key   string
	Value string
}
