package predict

// RULModel estimates remaining useful life and health from a single
// sensor sample. The model is a deterministic piecewise heuristic
// calibrated against the fleet's warning/critical thresholds; vibration
// dominates because it is the earliest mechanical failure signal.
type RULModel struct {
	MaxRULHours float64
}

func NewRULModel(maxRULHours float64) *RULModel {
	return &RULModel{MaxRULHours: maxRULHours}
}

// Predict returns (rulHours in [0, MaxRULHours], health in [0, 100]).
func (m *RULModel) Predict(sensors map[string]float64) (float64, float64) {
	vibX := sensorOr(sensors, "vibration_x", 0.5)
	vibY := sensorOr(sensors, "vibration_y", 0.5)
	temp := sensorOr(sensors, "temperature", 70)

	vibScore := vibrationScore((vibX + vibY) / 2)
	tempScore := temperatureScore(temp)

	health := clamp(vibScore*0.6+tempScore*0.4, 0, 100)

	// Non-linear RUL mapping: healthy machines get most of the budget,
	// the last 40 health points cover only the final 24 hours.
	var rul float64
	switch {
	case health >= 70:
		rul = 72 + ((health-70)/30)*72
	case health >= 40:
		rul = 24 + ((health-40)/30)*48
	default:
		rul = (health / 40) * 24
	}

	return clamp(rul, 0, m.MaxRULHours), health
}

// vibrationScore maps average vibration (mm/s) to 0-100 over four
// linear segments: healthy <=0.65, warning to 1.2, critical to 2.5.
func vibrationScore(avgVib float64) float64 {
	switch {
	case avgVib <= 0.65:
		return 100
	case avgVib <= 1.2:
		return 100 - ((avgVib-0.65)/0.55)*20
	case avgVib <= 2.5:
		return 80 - ((avgVib-1.2)/1.3)*50
	default:
		return clamp(30-((avgVib-2.5)/1.0)*30, 0, 30)
	}
}

// temperatureScore is context-aware: raw temperature selects the
// equipment profile (chiller below 20C, motor above 60C, pump between).
func temperatureScore(temp float64) float64 {
	switch {
	case temp < 20: // chiller
		switch {
		case temp <= 7.5:
			return 100
		case temp <= 10.0:
			return 100 - ((temp-7.5)/2.5)*30
		case temp <= 15.0:
			return 70 - ((temp-10.0)/5.0)*50
		default:
			return clamp(20-((temp-15.0)/5.0)*20, 0, 20)
		}
	case temp > 60: // motor
		switch {
		case temp <= 72:
			return 100
		case temp <= 85:
			return 100 - ((temp-72)/13)*25
		case temp <= 95:
			return 75 - ((temp-85)/10)*45
		default:
			return clamp(30-((temp-95)/10)*30, 0, 30)
		}
	default: // pump
		switch {
		case temp <= 52:
			return 100
		case temp <= 70:
			return 100 - ((temp-52)/18)*25
		case temp <= 85:
			return 75 - ((temp-70)/15)*45
		default:
			return clamp(30-((temp-85)/15)*30, 0, 30)
		}
	}
}

// FailureRisk classifies RUL into a coarse risk bucket for dashboards.
func FailureRisk(rulHours float64) string {
	switch {
	case rulHours > 72:
		return "low"
	case rulHours > 24:
		return "medium"
	default:
		return "high"
	}
}

func sensorOr(sensors map[string]float64, name string, fallback float64) float64 {
	if v, ok := sensors[name]; ok {
		return v
	}
	return fallback
}
