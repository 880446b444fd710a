package memory

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Seed struct {
	Departments []Department `yaml:"departments"`
	Staff       []Staff      `yaml:"staff"`
	Visits      []Visit      `yaml:"visits"`
}

type Department struct {
	ID       int64  `yaml:"id"`
	Name     string `yaml:"name"`
	Location string `yaml:"location"`
	// Prefix starts every display number issued by the department.
	Prefix string `yaml:"prefix"`
}

// Staff carries either a bcrypt PasswordHash or a plain Password that is
// hashed at load.
type Staff struct {
	ID           int64  `yaml:"id"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	PasswordHash string `yaml:"password_hash"`
	Name         string `yaml:"name"`
	Role         string `yaml:"role"`
	DepartmentID int64  `yaml:"department_id"`
}

// Visit is a registered hospital visit. Short visit numbers are resolved
// against the load date. Queued visits get a ticket at startup.
type Visit struct {
	VN           string  `yaml:"vn"`
	PatientName  string  `yaml:"patient_name"`
	Phone        string  `yaml:"phone"`
	DepartmentID int64   `yaml:"department_id"`
	Priority     float64 `yaml:"priority"`
	Queued       bool    `yaml:"queued"`
}

func LoadSeed(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("read seed: %w", err)
	}
	return ParseSeed(data)
}

func ParseSeed(data []byte) (Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return Seed{}, fmt.Errorf("parse seed: %w", err)
	}
	return seed, nil
}

// DefaultSeed is used when no seed file is configured.
func DefaultSeed() Seed {
	seed, err := ParseSeed([]byte(defaultSeed))
	if err != nil {
		panic(err)
	}
	return seed
}

const defaultSeed = `
departments:
  - id: 1
    name: General Medicine
    location: Building A, Room 101
    prefix: A
  - id: 2
    name: Pediatrics
    location: Building B, Room 204
    prefix: B
staff:
  - id: 1
    username: nurse
    password: password
    name: Nurse Joy
    role: nurse
    department_id: 1
  - id: 2
    username: peds
    password: password
    name: Nurse Ann
    role: nurse
    department_id: 2
visits:
  - {vn: "1", patient_name: Somchai Jaidee, phone: "0811111111", department_id: 1, queued: true}
  - {vn: "2", patient_name: Suda Rakdee, phone: "0822222222", department_id: 1, queued: true}
  - {vn: "3", patient_name: Anan Meesuk, phone: "0833333333", department_id: 1, queued: true}
  - {vn: "4", patient_name: Malee Srisuk, phone: "0844444444", department_id: 1, queued: true}
  - {vn: "5", patient_name: Preecha Boonmee, phone: "0855555555", department_id: 1, queued: true}
  - {vn: "6", patient_name: Wipa Thongdee, phone: "0866666666", department_id: 1, queued: true}
  - {vn: "7", patient_name: Kittisak Chaiyo, phone: "0877777777", department_id: 1}
  - {vn: "8", patient_name: Nida Kaewmanee, phone: "0888888888", department_id: 2, queued: true}
  - {vn: "9", patient_name: Chai Pongsri, phone: "0899999999", department_id: 2}
`
