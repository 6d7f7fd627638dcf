package pi

import "strings"

// Column names of the telemetry snapshot.
const (
	ColR4Flow            = "R4_Flow"
	ColR5Flow            = "R5_Flow"
	ColR11Flow           = "R11_Flow"
	ColR30Flow           = "R30_Flow"
	ColAfterbayElevation = "Afterbay_Elevation"
	ColAfterbaySetpoint  = "Afterbay_Elevation_Setpoint"
	ColOxbowSetpoint     = "Oxbow_Gov_Setpoint"
	ColOxbowPower        = "Oxbow_Power"
	ColHellHoleElevation = "Hell_Hole_Elevation"
	ColGenMFRA           = "GEN_MDFK_and_RA"
	ColADSMFRA           = "ADS_MDFK_and_RA"
	ColADSOxbow          = "ADS_Oxbow"
	ColOxbowGenForecast  = "Oxbow_Forecasted_Generation"
)

const (
	DatabaseOPS          = "OPS"
	DatabaseEnergyMarket = "Energy_Marketing"

	elementEnergyMarketTag = "Energy Marketing Tag"
)

// Point is a telemetry location/attribute pair.
type Point struct {
	Database  string // PI asset database, e.g. OPS or Energy_Marketing
	Meter     string // R4, Afterbay, Oxbow ...
	Attribute string // Flow, Elevation, Power ...
	Alertable bool   // informational points never raise alarms
	Forecast  bool   // fetched with a future horizon for the forecast pipeline
}

// Column returns the snapshot column this point is stored under.
func (p Point) Column() string {
	name := p.Meter + "_" + p.Attribute
	if p.Database == DatabaseEnergyMarket || p.Meter == "" {
		name = p.Attribute
	}
	return strings.ReplaceAll(name, " ", "_")
}

// ElementType returns the PI element folder holding the point.
func (p Point) ElementType() string {
	switch {
	case p.Meter == "" || p.Database == DatabaseEnergyMarket:
		return elementEnergyMarketTag
	case p.Attribute == "Flow":
		return "Gauging Stations"
	case strings.Contains(p.Meter, "Afterbay"), strings.Contains(p.Meter, "Hell Hole"):
		return "Reservoirs"
	case strings.Contains(p.Meter, "Middle Fork"), strings.Contains(p.Meter, "Oxbow"):
		return "Generation Units"
	default:
		return ""
	}
}

// Path returns the PI attribute path on the given server.
func (p Point) Path(server string) string {
	if p.ElementType() == elementEnergyMarketTag {
		return `\\` + server + `\` + p.Database + `\Misc Tags|` + p.Attribute
	}
	return `\\` + server + `\` + p.Database + `\` + p.ElementType() + `\` + p.Meter + `|` + p.Attribute
}

func (p Point) String() string {
	return p.Database + ":" + p.Column()
}

// DefaultCatalog is the set of points collected every ingest cycle.
func DefaultCatalog() []Point {
	return []Point{
		{Database: DatabaseOPS, Meter: "R4", Attribute: "Flow", Alertable: true},
		{Database: DatabaseOPS, Meter: "R11", Attribute: "Flow", Alertable: true},
		{Database: DatabaseOPS, Meter: "R30", Attribute: "Flow", Alertable: true},
		{Database: DatabaseOPS, Meter: "Afterbay", Attribute: "Elevation", Alertable: true},
		{Database: DatabaseOPS, Meter: "Afterbay", Attribute: "Elevation Setpoint", Alertable: true},
		{Database: DatabaseOPS, Meter: "Oxbow", Attribute: "Gov Setpoint", Alertable: true},
		{Database: DatabaseOPS, Meter: "Oxbow", Attribute: "Power", Alertable: true},
		{Database: DatabaseOPS, Meter: "R5", Attribute: "Flow"},
		{Database: DatabaseOPS, Meter: "Hell Hole", Attribute: "Elevation"},
		{Database: DatabaseEnergyMarket, Meter: "MFP_Total_Gen", Attribute: "GEN_MDFK_and_RA", Alertable: true},
		{Database: DatabaseEnergyMarket, Meter: "MFP_ADS", Attribute: "ADS_MDFK_and_RA", Alertable: true},
		{Database: DatabaseEnergyMarket, Meter: "Ox_ADS", Attribute: "ADS_Oxbow", Alertable: true},
	}
}

// GenerationForecastPoint is the day-ahead Oxbow generation schedule.
func GenerationForecastPoint() Point {
	return Point{Database: DatabaseOPS, Meter: "Oxbow", Attribute: "Forecasted Generation", Forecast: true}
}
