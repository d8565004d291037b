package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultServiceURL = "http://localhost:8080"

// VehicleRow строка CSV: number_plate,owner_name,vehicle_type[,allowed]
type VehicleRow struct {
	Line        int
	Plate       string
	OwnerName   string
	VehicleType string
	Allowed     *bool
}

type vehiclePayload struct {
	Plate       string `json:"number_plate"`
	OwnerName   string `json:"owner_name"`
	VehicleType string `json:"vehicle_type"`
	Allowed     *bool  `json:"allowed,omitempty"`
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run import_vehicles.go <path-to-csv> [service-url]")
		fmt.Println("Example: go run import_vehicles.go residents.csv http://gate.local:8080")
		os.Exit(1)
	}

	csvPath := os.Args[1]
	serviceURL := defaultServiceURL
	if len(os.Args) > 2 {
		serviceURL = strings.TrimRight(os.Args[2], "/")
	}

	authToken := os.Getenv("PARKING_TOKEN")
	if authToken == "" {
		fmt.Print("Enter auth token (Bearer token): ")
		fmt.Scanln(&authToken)
	}

	fmt.Println("Step 1: Reading CSV file...")
	rows, err := readCSV(csvPath)
	if err != nil {
		fmt.Printf("Error reading CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Read %d rows from CSV\n", len(rows))

	fmt.Println("\nStep 2: Registering vehicles...")
	client := &http.Client{Timeout: 30 * time.Second}
	created, updated, failed := 0, 0, 0
	for _, row := range rows {
		status, err := registerVehicle(client, serviceURL, authToken, row)
		switch {
		case err != nil:
			failed++
			fmt.Printf("  ✗ line %d %-12s %v\n", row.Line, row.Plate, err)
		case status == http.StatusCreated:
			created++
			fmt.Printf("  + %-12s %s\n", row.Plate, row.OwnerName)
		default:
			updated++
			fmt.Printf("  ~ %-12s %s\n", row.Plate, row.OwnerName)
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("SUMMARY")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("  Rows in CSV: %d\n", len(rows))
	fmt.Printf("  Created:     %d\n", created)
	fmt.Printf("  Updated:     %d\n", updated)
	fmt.Printf("  Failed:      %d\n", failed)

	if failed > 0 {
		os.Exit(2)
	}
}

// readCSV читает CSV файл, пропуская заголовок и пустые строки
func readCSV(path string) ([]VehicleRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	if _, err := reader.Read(); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	var rows []VehicleRow
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("failed to read record: %w", err)
		}
		if len(record) < 3 || strings.TrimSpace(record[0]) == "" {
			continue
		}

		row := VehicleRow{
			Line:        line,
			Plate:       strings.TrimSpace(record[0]),
			OwnerName:   strings.TrimSpace(record[1]),
			VehicleType: strings.TrimSpace(record[2]),
		}
		if len(record) > 3 && strings.TrimSpace(record[3]) != "" {
			if allowed, err := strconv.ParseBool(strings.TrimSpace(record[3])); err == nil {
				row.Allowed = &allowed
			}
		}
		rows = append(rows, row)
	}

	return rows, nil
}

func registerVehicle(client *http.Client, serviceURL, token string, row VehicleRow) (int, error) {
	body, err := json.Marshal(vehiclePayload{
		Plate:       row.Plate,
		OwnerName:   row.OwnerName,
		VehicleType: row.VehicleType,
		Allowed:     row.Allowed,
	})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequest(http.MethodPost, serviceURL+"/api/v1/vehicles", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		var apiErr struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, apiErr.Error)
		}
		return resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, string(raw))
	}
	return resp.StatusCode, nil
}
