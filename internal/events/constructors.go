package events

import "time"

func header(src Source, at time.Time) Header {
	if at.IsZero() {
		at = time.Now()
	}
	return Header{At: at, Source: src}
}

func copyValues(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// NewSensorUpdate copies values so the caller may reuse its map
func NewSensorUpdate(src Source, at time.Time, device, vital string, values map[string]float64, status string) SensorUpdate {
	return SensorUpdate{
		Header: header(src, at),
		Device: device,
		Vital:  vital,
		Values: copyValues(values),
		Status: status,
	}
}

func NewAlarmPanelState(at time.Time, alarm1, alarm2 bool) AlarmPanelState {
	return AlarmPanelState{Header: header(SourceGPIO, at), Alarm1: alarm1, Alarm2: alarm2}
}

func NewVitalSignRecorded(src Source, at time.Time, id int64, vital string, values map[string]float64, manual bool) VitalSignRecorded {
	return VitalSignRecorded{
		Header: header(src, at),
		ID:     id,
		Vital:  vital,
		Values: copyValues(values),
		Manual: manual,
	}
}

func NewAlertTriggered(at time.Time, alertID, group, alertType, severity string, signals []string, values map[string]float64) AlertTriggered {
	return AlertTriggered{
		Header:    header(SourceSystem, at),
		AlertID:   alertID,
		Group:     group,
		AlertType: alertType,
		Severity:  severity,
		Signals:   append([]string(nil), signals...),
		Values:    copyValues(values),
	}
}

func NewAlertResolved(at time.Time, alertID, group, resolution string) AlertResolved {
	return AlertResolved{Header: header(SourceSystem, at), AlertID: alertID, Group: group, Resolution: resolution}
}

func NewConnectionStatus(src Source, at time.Time, adapter string, connected bool, detail string) ConnectionStatus {
	return ConnectionStatus{Header: header(src, at), Adapter: adapter, Connected: connected, Detail: detail}
}

func NewClientLifecycle(at time.Time, clientID string, connected bool) ClientLifecycle {
	return ClientLifecycle{Header: header(SourceSystem, at), ClientID: clientID, Connected: connected}
}

func NewStateSyncRequest(at time.Time, clientID string) StateSyncRequest {
	return StateSyncRequest{Header: header(SourceSystem, at), ClientID: clientID}
}
