package storage

import (
	"fmt"
	"path"
	"strings"
)

// ProductImagePrefix returns the object prefix holding every image of a product.
func ProductImagePrefix(pharmacyID, productID string) (string, error) {
	pharmacyID, err := validateSegment("pharmacyID", pharmacyID)
	if err != nil {
		return "", err
	}
	productID, err = validateSegment("productID", productID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("products/%s/%s/", pharmacyID, productID), nil
}

// ProductImagePath returns products/{pharmacyID}/{productID}/{uploadID}{ext}. The extension is
// taken from fileName so clients keep a recognisable suffix while the stem stays unique.
func ProductImagePath(pharmacyID, productID, uploadID, fileName string) (string, error) {
	prefix, err := ProductImagePrefix(pharmacyID, productID)
	if err != nil {
		return "", err
	}
	uploadID, err = validateSegment("uploadID", uploadID)
	if err != nil {
		return "", err
	}
	fileName, err = validateSegment("fileName", fileName)
	if err != nil {
		return "", err
	}
	ext := strings.ToLower(path.Ext(fileName))
	return prefix + uploadID + ext, nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
