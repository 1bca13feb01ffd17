/*
 * Copyright (C) 2025 Tuplejump, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you may not
 * use this file except in compliance with the License. You may obtain a copy of
 * the License at
 *
 *   http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
 * WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
 * License for the specific language governing permissions and limitations under
 * the License.
 */

/*
 * @file methods.go
 * @brief Type-name conversions shared by schema loading and result building.
 */
package methods

import (
	"fmt"
	"strings"

	"github.com/datastax/go-cassandra-native-protocol/datatype"
	"github.com/datastax/go-cassandra-native-protocol/primitive"
)

const (
	CassandraTypeText      = "text"
	CassandraTypeVarchar   = "varchar"
	CassandraTypeBlob      = "blob"
	CassandraTypeTimestamp = "timestamp"
	CassandraTypeInt       = "int"
	CassandraTypeBigint    = "bigint"
	CassandraTypeBoolean   = "boolean"
	CassandraTypeUuid      = "uuid"
	CassandraTypeFloat     = "float"
	CassandraTypeDouble    = "double"
	CassandraTypeCounter   = "counter"
)

// GetCassandraColumnType converts the string form of a column type, as stored
// in schema metadata, into a DataType value. Collection types recurse on the
// element types; a frozen<> wrapper is dropped.
//
// Parameters:
//   - c: the type string, e.g. "text", "counter", "list<bigint>".
//
// Returns:
//   - datatype.DataType: the structured type.
//   - error: when the string names no known type.
func GetCassandraColumnType(c string) (datatype.DataType, error) {
	choice := strings.ToLower(strings.ReplaceAll(c, " ", ""))
	if strings.HasSuffix(choice, ">") {
		switch {
		case strings.HasPrefix(choice, "frozen<"):
			inner, err := GetCassandraColumnType(choice[7 : len(choice)-1])
			if err != nil {
				return nil, fmt.Errorf("failed to extract type for '%s': %w", c, err)
			}
			return inner, nil
		case strings.HasPrefix(choice, "list<"):
			inner, err := GetCassandraColumnType(choice[5 : len(choice)-1])
			if err != nil {
				return nil, fmt.Errorf("failed to extract type for '%s': %w", c, err)
			}
			return datatype.NewListType(inner), nil
		case strings.HasPrefix(choice, "set<"):
			inner, err := GetCassandraColumnType(choice[4 : len(choice)-1])
			if err != nil {
				return nil, fmt.Errorf("failed to extract type for '%s': %w", c, err)
			}
			return datatype.NewSetType(inner), nil
		case strings.HasPrefix(choice, "map<"):
			parts := strings.SplitN(choice[4:len(choice)-1], ",", 2)
			if len(parts) != 2 {
				return nil, fmt.Errorf("malformed map type")
			}
			keyType, err := GetCassandraColumnType(parts[0])
			if err != nil {
				return nil, fmt.Errorf("failed to extract type for '%s': %w", c, err)
			}
			valueType, err := GetCassandraColumnType(parts[1])
			if err != nil {
				return nil, fmt.Errorf("failed to extract type for '%s': %w", c, err)
			}
			return datatype.NewMapType(keyType, valueType), nil
		}
	}
	switch choice {
	case CassandraTypeText, CassandraTypeVarchar:
		return datatype.Varchar, nil
	case CassandraTypeBlob:
		return datatype.Blob, nil
	case CassandraTypeTimestamp:
		return datatype.Timestamp, nil
	case CassandraTypeInt:
		return datatype.Int, nil
	case CassandraTypeBigint:
		return datatype.Bigint, nil
	case CassandraTypeBoolean:
		return datatype.Boolean, nil
	case CassandraTypeUuid:
		return datatype.Uuid, nil
	case CassandraTypeFloat:
		return datatype.Float, nil
	case CassandraTypeDouble:
		return datatype.Double, nil
	case CassandraTypeCounter:
		return datatype.Counter, nil
	default:
		return nil, fmt.Errorf("unsupported column type: %s", choice)
	}
}

// ConvertCQLDataTypeToString is the inverse of GetCassandraColumnType.
func ConvertCQLDataTypeToString(cqlType datatype.DataType) (string, error) {
	if cqlType == nil {
		return "", fmt.Errorf("datatype is nil")
	}
	switch cqlType {
	case datatype.Varchar:
		return CassandraTypeVarchar, nil
	case datatype.Blob:
		return CassandraTypeBlob, nil
	case datatype.Timestamp:
		return CassandraTypeTimestamp, nil
	case datatype.Int:
		return CassandraTypeInt, nil
	case datatype.Bigint:
		return CassandraTypeBigint, nil
	case datatype.Boolean:
		return CassandraTypeBoolean, nil
	case datatype.Uuid:
		return CassandraTypeUuid, nil
	case datatype.Float:
		return CassandraTypeFloat, nil
	case datatype.Double:
		return CassandraTypeDouble, nil
	case datatype.Counter:
		return CassandraTypeCounter, nil
	}
	switch cqlType.GetDataTypeCode() {
	case primitive.DataTypeCodeSet:
		setType, ok := cqlType.(datatype.SetType)
		if !ok {
			return "", fmt.Errorf("failed to assert set type for %v", cqlType)
		}
		elem, err := ConvertCQLDataTypeToString(setType.GetElementType())
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("set<%s>", elem), nil
	case primitive.DataTypeCodeList:
		listType, ok := cqlType.(datatype.ListType)
		if !ok {
			return "", fmt.Errorf("failed to assert list type for %v", cqlType)
		}
		elem, err := ConvertCQLDataTypeToString(listType.GetElementType())
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("list<%s>", elem), nil
	case primitive.DataTypeCodeMap:
		mapType, ok := cqlType.(datatype.MapType)
		if !ok {
			return "", fmt.Errorf("failed to assert map type for %v", cqlType)
		}
		key, err := ConvertCQLDataTypeToString(mapType.GetKeyType())
		if err != nil {
			return "", err
		}
		value, err := ConvertCQLDataTypeToString(mapType.GetValueType())
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("map<%s,%s>", key, value), nil
	}
	return "", fmt.Errorf("no mapping for datatype %v", cqlType)
}
