package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/ticvision/portal/internal/models"
	"github.com/ticvision/portal/internal/store"
	"github.com/ticvision/portal/pkg/metrics"
)

const ticDateLayout = "2006-01-02"

// Time ranges accepted by TicFilter.Range.
const (
	TicRangeAll          = "all"
	TicRangeToday        = "today"
	TicRangeLastWeek     = "lastWeek"
	TicRangeLastMonth    = "lastMonth"
	TicRangeLast3Months  = "last3Months"
	TicRangeLast6Months  = "last6Months"
	TicRangeLastYear     = "lastYear"
	TicRangeSpecificDate = "specificDate"
)

// Chart aggregation modes.
const (
	TicChartAvg   = "avg"
	TicChartTotal = "total"
	TicChartCount = "count"
)

// TicExportSheet is the worksheet name used by XLSX exports.
const TicExportSheet = "TicData"

var (
	// ErrTicInvalidArgument indicates a malformed event or filter.
	ErrTicInvalidArgument = errors.New("tic: invalid argument")
	// ErrTicForbidden indicates the viewer may not read the patient's data.
	ErrTicForbidden = errors.New("tic: access denied")
	// ErrTicPatientNotFound indicates the target is not a known patient.
	ErrTicPatientNotFound = errors.New("tic: patient not found")
)

var ticExportHeader = []string{"Date", "Time of Day", "Location", "Intensity"}

var timeOfDayOrder = map[string]int{
	models.TimeOfDayMorning:   0,
	models.TimeOfDayAfternoon: 1,
	models.TimeOfDayEvening:   2,
	models.TimeOfDayNight:     3,
}

// Viewer identifies the authenticated caller reading tic data.
type Viewer struct {
	UserID string
	Role   string
}

// TicInput describes a tic event submitted by a patient.
type TicInput struct {
	Date      string
	TimeOfDay string
	Location  string
	Intensity int
}

// TicFilter narrows the events returned by Query, Chart and the exports.
type TicFilter struct {
	Range     string
	Date      string
	Locations []string
	// Sort is "asc" or "desc"; anything else sorts newest first.
	Sort string
}

// TicChartRow holds one x-axis bucket with a value per location present in it.
type TicChartRow struct {
	Key    string             `json:"key"`
	Values map[string]float64 `json:"values"`
}

// TicChart is the aggregated series rendered by the dashboard chart.
type TicChart struct {
	Mode      string        `json:"mode"`
	GroupBy   string        `json:"group_by"`
	Locations []string      `json:"locations"`
	Rows      []TicChartRow `json:"rows"`
	YMax      float64       `json:"y_max"`
}

// TicOption customises TicService behaviour.
type TicOption func(*TicService)

// WithTicClock injects a custom clock primarily for testing.
func WithTicClock(clock func() time.Time) TicOption {
	return func(s *TicService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithTicAudit records tic writes and exports in the audit log.
func WithTicAudit(audit *AuditService) TicOption {
	return func(s *TicService) {
		s.audit = audit
	}
}

// TicService records tic events and serves filtered views of them to the
// patient and their linked doctors.
type TicService struct {
	tics      store.TicStore
	directory store.Directory
	links     store.ConfirmationStore
	audit     *AuditService
	now       func() time.Time
}

// NewTicService constructs a TicService.
func NewTicService(tics store.TicStore, directory store.Directory, links store.ConfirmationStore, opts ...TicOption) (*TicService, error) {
	if tics == nil {
		return nil, errors.New("tic service: tic store is required")
	}
	if directory == nil {
		return nil, errors.New("tic service: directory is required")
	}
	if links == nil {
		return nil, errors.New("tic service: confirmation store is required")
	}

	svc := &TicService{
		tics:      tics,
		directory: directory,
		links:     links,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc, nil
}

// Record stores a tic for the patient and bumps their tic counter.
func (s *TicService) Record(ctx context.Context, patientID string, input TicInput) (*models.TicEvent, error) {
	ctx = ensureContext(ctx)

	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return nil, fmt.Errorf("%w: patient id is required", ErrTicInvalidArgument)
	}
	event, err := buildTicEvent(patientID, input)
	if err != nil {
		return nil, err
	}

	patient, err := s.directory.FindByID(ctx, patientID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !patient.IsPatient()) {
		return nil, ErrTicPatientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("tic service: load patient: %w", err)
	}

	if err := s.tics.RecordTic(ctx, event); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTicPatientNotFound
		}
		return nil, fmt.Errorf("tic service: record: %w", err)
	}
	metrics.TicEventsRecorded.Inc()

	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   &patientID,
		Action:   AuditActionTicRecord,
		Resource: "tic:" + event.ID,
		Result:   AuditResultSuccess,
		Metadata: map[string]any{"location": event.Location, "intensity": event.Intensity},
	})

	return event, nil
}

// Query returns the patient's events matching the filter.
func (s *TicService) Query(ctx context.Context, viewer Viewer, patientID string, filter TicFilter) ([]models.TicEvent, error) {
	ctx = ensureContext(ctx)

	if err := s.authorize(ctx, viewer, patientID); err != nil {
		return nil, err
	}
	query, err := s.buildQuery(patientID, filter)
	if err != nil {
		return nil, err
	}

	events, err := s.tics.ListTics(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("tic service: list: %w", err)
	}
	return events, nil
}

// Locations returns every location the patient has logged a tic against.
func (s *TicService) Locations(ctx context.Context, viewer Viewer, patientID string) ([]string, error) {
	ctx = ensureContext(ctx)

	if err := s.authorize(ctx, viewer, patientID); err != nil {
		return nil, err
	}
	locations, err := s.tics.TicLocations(ctx, strings.TrimSpace(patientID))
	if err != nil {
		return nil, fmt.Errorf("tic service: locations: %w", err)
	}
	if locations == nil {
		locations = []string{}
	}
	return locations, nil
}

// Chart aggregates the filtered events per bucket and location. Buckets are
// times of day for the today range and calendar dates otherwise.
func (s *TicService) Chart(ctx context.Context, viewer Viewer, patientID string, filter TicFilter, mode string) (*TicChart, error) {
	mode = strings.TrimSpace(mode)
	if mode == "" {
		mode = TicChartAvg
	}
	if mode != TicChartAvg && mode != TicChartTotal && mode != TicChartCount {
		return nil, fmt.Errorf("%w: unknown chart mode %q", ErrTicInvalidArgument, mode)
	}

	events, err := s.Query(ctx, viewer, patientID, filter)
	if err != nil {
		return nil, err
	}
	return buildTicChart(events, mode, filter.Range == TicRangeToday), nil
}

// ExportCSV renders the filtered events as CSV.
func (s *TicService) ExportCSV(ctx context.Context, viewer Viewer, patientID string, filter TicFilter) ([]byte, error) {
	events, err := s.Query(ctx, viewer, patientID, filter)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(ticExportHeader); err != nil {
		return nil, fmt.Errorf("tic service: write csv header: %w", err)
	}
	for _, event := range events {
		if err := writer.Write(ticExportRow(event)); err != nil {
			return nil, fmt.Errorf("tic service: write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("tic service: flush csv: %w", err)
	}

	s.auditExport(ctx, viewer, patientID, "csv", len(events))
	return buf.Bytes(), nil
}

// ExportXLSX renders the filtered events as a single-sheet workbook.
func (s *TicService) ExportXLSX(ctx context.Context, viewer Viewer, patientID string, filter TicFilter) ([]byte, error) {
	events, err := s.Query(ctx, viewer, patientID, filter)
	if err != nil {
		return nil, err
	}

	payload, err := writeTicWorkbook(events)
	if err != nil {
		return nil, fmt.Errorf("tic service: %w", err)
	}

	s.auditExport(ctx, viewer, patientID, "xlsx", len(events))
	return payload, nil
}

func (s *TicService) auditExport(ctx context.Context, viewer Viewer, patientID, format string, rows int) {
	userID := viewer.UserID
	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   &userID,
		Action:   AuditActionTicExport,
		Resource: "patient:" + strings.TrimSpace(patientID),
		Result:   AuditResultSuccess,
		Metadata: map[string]any{"format": format, "rows": rows},
	})
}

// authorize admits the patient themselves and doctors holding a confirmed link.
func (s *TicService) authorize(ctx context.Context, viewer Viewer, patientID string) error {
	patientID = strings.TrimSpace(patientID)
	viewerID := strings.TrimSpace(viewer.UserID)
	if patientID == "" || viewerID == "" {
		return ErrTicForbidden
	}

	switch viewer.Role {
	case models.RolePatient:
		if viewerID == patientID {
			return nil
		}
	case models.RoleDoctor:
		linked, err := s.links.IsLinked(ctx, viewerID, patientID)
		if err != nil {
			return fmt.Errorf("tic service: check link: %w", err)
		}
		if linked {
			return nil
		}
	}

	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   &viewerID,
		Action:   AuditActionTicRead,
		Resource: "patient:" + patientID,
		Result:   AuditResultDenied,
	})
	return ErrTicForbidden
}

func (s *TicService) buildQuery(patientID string, filter TicFilter) (store.TicQuery, error) {
	from, to, err := resolveTicRange(s.now().UTC(), filter.Range, filter.Date)
	if err != nil {
		return store.TicQuery{}, err
	}

	return store.TicQuery{
		PatientID: strings.TrimSpace(patientID),
		From:      from,
		To:        to,
		Locations: normaliseIDs(filter.Locations),
		Ascending: strings.EqualFold(strings.TrimSpace(filter.Sort), "asc"),
	}, nil
}

// resolveTicRange converts a named range into inclusive date bounds relative to now.
// Day-count ranges keep every date whose midnight lies within the window, so
// future-dated entries are included.
func resolveTicRange(now time.Time, rangeName, date string) (string, string, error) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	switch strings.TrimSpace(rangeName) {
	case "", TicRangeAll:
		return "", "", nil
	case TicRangeToday:
		day := today.Format(ticDateLayout)
		return day, day, nil
	case TicRangeLastWeek:
		return windowStart(now, 7), "", nil
	case TicRangeLastMonth:
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		last := first.AddDate(0, 1, -1)
		return first.Format(ticDateLayout), last.Format(ticDateLayout), nil
	case TicRangeLast3Months:
		return windowStart(now, 90), "", nil
	case TicRangeLast6Months:
		return windowStart(now, 180), "", nil
	case TicRangeLastYear:
		return fmt.Sprintf("%04d-01-01", now.Year()), fmt.Sprintf("%04d-12-31", now.Year()), nil
	case TicRangeSpecificDate:
		date = strings.TrimSpace(date)
		if date == "" {
			return "", "", nil
		}
		if _, err := time.Parse(ticDateLayout, date); err != nil {
			return "", "", fmt.Errorf("%w: date must be YYYY-MM-DD", ErrTicInvalidArgument)
		}
		return date, date, nil
	default:
		return "", "", fmt.Errorf("%w: unknown range %q", ErrTicInvalidArgument, rangeName)
	}
}

// windowStart returns the earliest date whose midnight is at most days*24h before now.
func windowStart(now time.Time, days int) string {
	cutoff := now.Add(-time.Duration(days) * 24 * time.Hour)
	start := time.Date(cutoff.Year(), cutoff.Month(), cutoff.Day(), 0, 0, 0, 0, time.UTC)
	if cutoff.After(start) {
		start = start.AddDate(0, 0, 1)
	}
	return start.Format(ticDateLayout)
}

func buildTicEvent(patientID string, input TicInput) (*models.TicEvent, error) {
	date := strings.TrimSpace(input.Date)
	if _, err := time.Parse(ticDateLayout, date); err != nil {
		return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrTicInvalidArgument)
	}
	timeOfDay := strings.TrimSpace(input.TimeOfDay)
	if _, ok := timeOfDayOrder[timeOfDay]; !ok {
		return nil, fmt.Errorf("%w: unknown time of day %q", ErrTicInvalidArgument, input.TimeOfDay)
	}
	location := strings.TrimSpace(input.Location)
	if location == "" {
		return nil, fmt.Errorf("%w: location is required", ErrTicInvalidArgument)
	}
	if input.Intensity < 1 || input.Intensity > 10 {
		return nil, fmt.Errorf("%w: intensity must be between 1 and 10", ErrTicInvalidArgument)
	}

	return &models.TicEvent{
		PatientID: patientID,
		Date:      date,
		TimeOfDay: timeOfDay,
		Location:  location,
		Intensity: input.Intensity,
	}, nil
}

func buildTicChart(events []models.TicEvent, mode string, byTimeOfDay bool) *TicChart {
	type bucket struct {
		sum   int
		count int
	}

	grouped := make(map[string]map[string]*bucket)
	locationSet := make(map[string]struct{})
	for _, event := range events {
		key := event.Date
		if byTimeOfDay {
			key = event.TimeOfDay
		}
		if grouped[key] == nil {
			grouped[key] = make(map[string]*bucket)
		}
		b := grouped[key][event.Location]
		if b == nil {
			b = &bucket{}
			grouped[key][event.Location] = b
		}
		b.sum += event.Intensity
		b.count++
		locationSet[event.Location] = struct{}{}
	}

	chart := &TicChart{
		Mode:      mode,
		GroupBy:   "date",
		Locations: make([]string, 0, len(locationSet)),
		Rows:      make([]TicChartRow, 0, len(grouped)),
	}
	if byTimeOfDay {
		chart.GroupBy = "time_of_day"
	}
	for location := range locationSet {
		chart.Locations = append(chart.Locations, location)
	}
	sort.Strings(chart.Locations)

	maxValue := 0.0
	for key, perLocation := range grouped {
		row := TicChartRow{Key: key, Values: make(map[string]float64, len(perLocation))}
		for location, b := range perLocation {
			var value float64
			switch mode {
			case TicChartTotal:
				value = float64(b.sum)
			case TicChartCount:
				value = float64(b.count)
			default:
				value = float64(b.sum) / float64(b.count)
			}
			row.Values[location] = value
			if value > maxValue {
				maxValue = value
			}
		}
		chart.Rows = append(chart.Rows, row)
	}

	sort.Slice(chart.Rows, func(i, j int) bool {
		if byTimeOfDay {
			return timeOfDayRank(chart.Rows[i].Key) < timeOfDayRank(chart.Rows[j].Key)
		}
		return chart.Rows[i].Key < chart.Rows[j].Key
	})

	if mode == TicChartAvg {
		chart.YMax = 10
	} else {
		chart.YMax = maxValue + 5
		if chart.YMax < 5 {
			chart.YMax = 5
		}
	}
	return chart
}

func timeOfDayRank(value string) int {
	if rank, ok := timeOfDayOrder[value]; ok {
		return rank
	}
	return len(timeOfDayOrder)
}

func ticExportRow(event models.TicEvent) []string {
	return []string{event.Date, event.TimeOfDay, event.Location, strconv.Itoa(event.Intensity)}
}

func writeTicWorkbook(events []models.TicEvent) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(TicExportSheet)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("delete default sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	for col, header := range ticExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, fmt.Errorf("header cell: %w", err)
		}
		if err := f.SetCellValue(TicExportSheet, cell, header); err != nil {
			return nil, fmt.Errorf("set header %s: %w", cell, err)
		}
		if err := f.SetCellStyle(TicExportSheet, cell, cell, headerStyle); err != nil {
			return nil, fmt.Errorf("style header %s: %w", cell, err)
		}
	}
	if err := f.SetColWidth(TicExportSheet, "A", "D", 16); err != nil {
		return nil, fmt.Errorf("set column width: %w", err)
	}

	for i, event := range events {
		row := i + 2
		values := []any{event.Date, event.TimeOfDay, event.Location, event.Intensity}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return nil, fmt.Errorf("row %d cell: %w", row, err)
			}
			if err := f.SetCellValue(TicExportSheet, cell, value); err != nil {
				return nil, fmt.Errorf("set cell %s: %w", cell, err)
			}
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
